package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/ratelimit"
)

const (
	defaultRateLimit      = 10
	defaultRateWindow     = time.Minute
	defaultRequestTimeout = 15 * time.Second
	rateLimitKeyPrefix    = "sync:"
)

// Reconciler is the operation the handler exposes.
type Reconciler interface {
	Reconcile(ctx context.Context, userID string) (*billing.Result, error)
}

// Config holds configuration for the sync handler
type Config struct {
	// Reconciler performs the reconciliation (required)
	Reconciler Reconciler

	// Authenticate resolves the caller's user id (required).
	// JWTVerifier.Authenticate is the usual choice.
	Authenticate Authenticator

	// RateLimiter is optional. When nil requests are not limited.
	RateLimiter ratelimit.Limiter

	// RateLimit is the per-user policy.
	// Default: 10 requests per minute
	RateLimit ratelimit.Policy

	// RequestTimeout bounds a single reconciliation.
	// Default: 15s
	RequestTimeout time.Duration

	// Coalesce shares one in-flight reconciliation between concurrent
	// requests for the same user.
	Coalesce bool

	// OnError replaces the default JSON error response.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// Logger is optional; nil means billing.NoopLogger.
	Logger billing.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Reconciler == nil {
		return fmt.Errorf("reconciler is required")
	}
	if c.Authenticate == nil {
		return fmt.Errorf("authenticate is required")
	}
	if c.RateLimiter != nil && c.RateLimit != (ratelimit.Policy{}) {
		if err := c.RateLimit.Validate(); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	return nil
}

// NewHandler creates a new sync handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if config.RateLimit == (ratelimit.Policy{}) {
		config.RateLimit = ratelimit.Policy{Limit: defaultRateLimit, Window: defaultRateWindow}
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}

	return &Handler{
		config:  config,
		service: NewService(config.Reconciler, config.Coalesce),
	}, nil
}
