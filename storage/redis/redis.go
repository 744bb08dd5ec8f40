// Package redis provides a Redis implementation of billing.Store.
// Records are stored as JSON with a TTL, which makes it suitable as the hot
// tier in front of a durable store (see storage/tiered).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const defaultKeyPrefix = "subsync:"

// Storage implements billing.Store using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "subsync:")
	KeyPrefix string

	// RecordTTL is the TTL for subscription keys (0 = no expiration)
	RecordTTL time.Duration

	// ProfileTTL is the TTL for profile keys (0 = no expiration)
	ProfileTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  defaultKeyPrefix,
		RecordTTL:  10 * time.Minute,
		ProfileTTL: time.Hour,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	return &Storage{client: client, config: config}, nil
}

type recordJSON struct {
	UserID               string     `json:"user_id"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	Status               string     `json:"status"`
	Tier                 string     `json:"tier"`
	TrialEndsAt          *time.Time `json:"trial_ends_at,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type profileJSON struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// GetSubscription implements billing.Store
func (s *Storage) GetSubscription(ctx context.Context, userID string) (*billing.Record, error) {
	var v recordJSON
	found, err := s.get(ctx, s.subscriptionKey(userID), &v)
	if err != nil || !found {
		return nil, err
	}
	return &billing.Record{
		UserID:               v.UserID,
		StripeCustomerID:     v.StripeCustomerID,
		StripeSubscriptionID: v.StripeSubscriptionID,
		Status:               v.Status,
		Tier:                 v.Tier,
		TrialEndsAt:          v.TrialEndsAt,
		CurrentPeriodEnd:     v.CurrentPeriodEnd,
		CancelAtPeriodEnd:    v.CancelAtPeriodEnd,
		UpdatedAt:            v.UpdatedAt,
	}, nil
}

// UpsertSubscription implements billing.Store. The key is replaced wholesale.
func (s *Storage) UpsertSubscription(ctx context.Context, rec *billing.Record) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("invalid subscription record")
	}
	return s.set(ctx, s.subscriptionKey(rec.UserID), recordJSON{
		UserID:               rec.UserID,
		StripeCustomerID:     rec.StripeCustomerID,
		StripeSubscriptionID: rec.StripeSubscriptionID,
		Status:               rec.Status,
		Tier:                 rec.Tier,
		TrialEndsAt:          rec.TrialEndsAt,
		CurrentPeriodEnd:     rec.CurrentPeriodEnd,
		CancelAtPeriodEnd:    rec.CancelAtPeriodEnd,
		UpdatedAt:            rec.UpdatedAt,
	}, s.config.RecordTTL)
}

// GetProfile implements billing.Store
func (s *Storage) GetProfile(ctx context.Context, userID string) (*billing.Profile, error) {
	var v profileJSON
	found, err := s.get(ctx, s.profileKey(userID), &v)
	if err != nil || !found {
		return nil, err
	}
	return &billing.Profile{UserID: v.UserID, Email: v.Email}, nil
}

// SetProfile stores a profile.
func (s *Storage) SetProfile(ctx context.Context, p *billing.Profile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("invalid profile")
	}
	return s.set(ctx, s.profileKey(p.UserID), profileJSON{UserID: p.UserID, Email: p.Email}, s.config.ProfileTTL)
}

// Invalidate drops the cached subscription and profile of userID.
func (s *Storage) Invalidate(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.subscriptionKey(userID), s.profileKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", userID, err)
	}
	return nil
}

func (s *Storage) get(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Storage) set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *Storage) subscriptionKey(userID string) string {
	return s.config.KeyPrefix + "subscription:" + userID
}

func (s *Storage) profileKey(userID string) string {
	return s.config.KeyPrefix + "profile:" + userID
}

// Close closes the Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
