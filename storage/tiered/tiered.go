// Package tiered provides a Hot/Cold billing.Store that serves reads from a
// fast cache (Hot) in front of the durable store of record (Cold).
package tiered

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the cache tier (e.g., Redis, Memory)
	Hot billing.Store

	// Cold is the source of truth (e.g., Postgres, Firestore)
	Cold billing.Store

	// ErrorHandler is called when a Hot write fails after Cold succeeded.
	// Such failures leave Hot stale until its entry expires or is invalidated.
	ErrorHandler func(error)
}

type profileSetter interface {
	SetProfile(ctx context.Context, p *billing.Profile) error
}

type invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Storage implements billing.Store with two strategies:
//   - Read-Through: subscriptions (Hot → Cold → populate Hot)
//   - Write-Through: subscriptions (Cold → Hot)
//
// Profiles are owned by the account system and change outside this service,
// so they are always read from and written to Cold.
type Storage struct {
	hot  billing.Store
	cold billing.Store
	conf Config
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = func(error) {}
	}
	return &Storage{hot: config.Hot, cold: config.Cold, conf: config}, nil
}

// GetSubscription implements billing.Store with read-through strategy.
// A Hot failure is treated as a miss.
func (s *Storage) GetSubscription(ctx context.Context, userID string) (*billing.Record, error) {
	if rec, err := s.hot.GetSubscription(ctx, userID); err == nil && rec != nil {
		return rec, nil
	}

	rec, err := s.cold.GetSubscription(ctx, userID)
	if err != nil || rec == nil {
		return rec, err
	}

	// Cache fill; errors are non-critical
	_ = s.hot.UpsertSubscription(ctx, rec) //nolint:errcheck // Cold is source of truth
	return rec, nil
}

// GetProfile implements billing.Store. Profiles are never cached.
func (s *Storage) GetProfile(ctx context.Context, userID string) (*billing.Profile, error) {
	return s.cold.GetProfile(ctx, userID)
}

// UpsertSubscription implements billing.Store with write-through strategy.
func (s *Storage) UpsertSubscription(ctx context.Context, rec *billing.Record) error {
	// 1. Write Cold (Durability)
	if err := s.cold.UpsertSubscription(ctx, rec); err != nil {
		return err
	}
	// 2. Write Hot; on failure drop the entry so reads fall back to Cold
	if err := s.hot.UpsertSubscription(ctx, rec); err != nil {
		s.hotFailed(ctx, rec.UserID, fmt.Errorf("hot upsert for %s: %w", rec.UserID, err))
	}
	return nil
}

// SetProfile writes a profile to Cold.
func (s *Storage) SetProfile(ctx context.Context, p *billing.Profile) error {
	cold, ok := s.cold.(profileSetter)
	if !ok {
		return fmt.Errorf("tiered storage: cold store cannot write profiles")
	}
	return cold.SetProfile(ctx, p)
}

func (s *Storage) hotFailed(ctx context.Context, userID string, err error) {
	if inv, ok := s.hot.(invalidator); ok {
		if invErr := inv.Invalidate(ctx, userID); invErr != nil {
			err = errors.Join(err, invErr)
		}
	}
	s.conf.ErrorHandler(err)
}

// Now implements billing.TimeSource using Cold's clock when it has one.
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	if ts, ok := s.cold.(billing.TimeSource); ok {
		return ts.Now(ctx)
	}
	return time.Now().UTC(), nil
}

// Ping checks both tiers. Only Cold being down is fatal.
func (s *Storage) Ping(ctx context.Context) error {
	if p, ok := s.cold.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("cold: %w", err)
		}
	}
	if p, ok := s.hot.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			s.conf.ErrorHandler(fmt.Errorf("hot ping: %w", err))
		}
	}
	return nil
}
