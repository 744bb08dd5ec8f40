// Package ratelimit provides the per-caller request limiter used in front of
// reconciliation. Limiters are keyed by an opaque caller key.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPolicy is returned when a policy has a non-positive limit or window.
var ErrInvalidPolicy = errors.New("ratelimit: invalid policy")

// Policy allows Limit requests per Window for a single key.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.Limit <= 0 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long the caller should wait before retrying.
	// Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter decides whether a request for key is allowed under policy.
type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy) (Decision, error)
}
