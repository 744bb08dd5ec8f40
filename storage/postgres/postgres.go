// Package postgres provides a PostgreSQL implementation of the billing.Store interface.
// Subscription rows are keyed on user_id and written with a single
// INSERT ... ON CONFLICT statement that replaces every column.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// Storage implements billing.Store and billing.TimeSource using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Now implements billing.TimeSource using the database clock
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT NOW()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to read database time: %w", err)
	}
	return now.UTC(), nil
}

// GetSubscription implements billing.Store
func (s *Storage) GetSubscription(ctx context.Context, userID string) (*billing.Record, error) {
	var rec billing.Record
	var customerID, subscriptionID *string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, stripe_customer_id, stripe_subscription_id, status, tier,
				trial_ends_at, current_period_end, cancel_at_period_end, updated_at
			FROM subscriptions WHERE user_id = $1`,
		userID).Scan(
		&rec.UserID,
		&customerID,
		&subscriptionID,
		&rec.Status,
		&rec.Tier,
		&rec.TrialEndsAt,
		&rec.CurrentPeriodEnd,
		&rec.CancelAtPeriodEnd,
		&rec.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	if customerID != nil {
		rec.StripeCustomerID = *customerID
	}
	if subscriptionID != nil {
		rec.StripeSubscriptionID = *subscriptionID
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.TrialEndsAt = utc(rec.TrialEndsAt)
	rec.CurrentPeriodEnd = utc(rec.CurrentPeriodEnd)
	return &rec, nil
}

// UpsertSubscription implements billing.Store. Every column is overwritten,
// so a record without a subscription id clears the stored one.
func (s *Storage) UpsertSubscription(ctx context.Context, rec *billing.Record) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (user_id, stripe_customer_id, stripe_subscription_id, status, tier,
				trial_ends_at, current_period_end, cancel_at_period_end, updated_at)
			VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id) DO UPDATE SET
				stripe_customer_id = EXCLUDED.stripe_customer_id,
				stripe_subscription_id = EXCLUDED.stripe_subscription_id,
				status = EXCLUDED.status,
				tier = EXCLUDED.tier,
				trial_ends_at = EXCLUDED.trial_ends_at,
				current_period_end = EXCLUDED.current_period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				updated_at = EXCLUDED.updated_at`,
		rec.UserID, rec.StripeCustomerID, rec.StripeSubscriptionID, rec.Status, rec.Tier,
		rec.TrialEndsAt, rec.CurrentPeriodEnd, rec.CancelAtPeriodEnd, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// GetProfile implements billing.Store
func (s *Storage) GetProfile(ctx context.Context, userID string) (*billing.Profile, error) {
	var p billing.Profile
	var email *string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, email FROM profiles WHERE user_id = $1`,
		userID).Scan(&p.UserID, &email)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if email != nil {
		p.Email = *email
	}
	return &p, nil
}

// SetProfile inserts or replaces a profile row.
func (s *Storage) SetProfile(ctx context.Context, p *billing.Profile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("invalid profile")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, email, updated_at)
			VALUES ($1, NULLIF($2, ''), NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				email = EXCLUDED.email,
				updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
