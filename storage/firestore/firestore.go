// Package firestore provides a Firestore implementation of the billing.Store interface.
// Subscription documents are keyed by user id and always written whole.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const (
	defaultSubscriptionsCollection = "billing_subscriptions"
	defaultProfilesCollection      = "profiles"
	defaultClockCollection         = "billing_clock"
	clockDoc                       = "now"
)

// Storage implements billing.Store and billing.TimeSource using Google Cloud Firestore
type Storage struct {
	client                  *firestore.Client
	subscriptionsCollection string
	profilesCollection      string
	clockCollection         string
}

// Config holds Firestore storage configuration
type Config struct {
	// SubscriptionsCollection is the collection for subscription records
	// Default: "billing_subscriptions"
	SubscriptionsCollection string

	// ProfilesCollection is the collection holding user profiles (email)
	// Default: "profiles"
	ProfilesCollection string

	// ClockCollection holds a single document used to read server time
	// Default: "billing_clock"
	ClockCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = defaultSubscriptionsCollection
	}
	if config.ProfilesCollection == "" {
		config.ProfilesCollection = defaultProfilesCollection
	}
	if config.ClockCollection == "" {
		config.ClockCollection = defaultClockCollection
	}

	return &Storage{
		client:                  client,
		subscriptionsCollection: config.SubscriptionsCollection,
		profilesCollection:      config.ProfilesCollection,
		clockCollection:         config.ClockCollection,
	}, nil
}

// GetSubscription implements billing.Store
func (s *Storage) GetSubscription(ctx context.Context, userID string) (*billing.Record, error) {
	snap, err := s.client.Collection(s.subscriptionsCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	return recordFromData(userID, snap.Data()), nil
}

// UpsertSubscription implements billing.Store. Set is called without
// MergeAll so fields missing from rec are removed from the document.
func (s *Storage) UpsertSubscription(ctx context.Context, rec *billing.Record) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	doc := s.client.Collection(s.subscriptionsCollection).Doc(rec.UserID)
	if _, err := doc.Set(ctx, recordToData(rec)); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// GetProfile implements billing.Store
func (s *Storage) GetProfile(ctx context.Context, userID string) (*billing.Profile, error) {
	snap, err := s.client.Collection(s.profilesCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	return &billing.Profile{
		UserID: userID,
		Email:  getString(snap.Data(), "email"),
	}, nil
}

// SetProfile merges the email into the user's profile document.
func (s *Storage) SetProfile(ctx context.Context, p *billing.Profile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("invalid profile")
	}

	doc := s.client.Collection(s.profilesCollection).Doc(p.UserID)
	if _, err := doc.Set(ctx, map[string]interface{}{"email": p.Email}, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}
	return nil
}

// Now implements billing.TimeSource. It reads the commit time of a write
// to a dedicated clock document.
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	doc := s.client.Collection(s.clockCollection).Doc(clockDoc)
	wr, err := doc.Set(ctx, map[string]interface{}{"at": firestore.ServerTimestamp})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read server time: %w", err)
	}
	return wr.UpdateTime.UTC(), nil
}

func recordToData(rec *billing.Record) map[string]interface{} {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	data := map[string]interface{}{
		"stripeCustomerId":     rec.StripeCustomerID,
		"stripeSubscriptionId": rec.StripeSubscriptionID,
		"status":               rec.Status,
		"tier":                 rec.Tier,
		"cancelAtPeriodEnd":    rec.CancelAtPeriodEnd,
		"updatedAt":            updatedAt,
	}
	if rec.TrialEndsAt != nil {
		data["trialEndsAt"] = *rec.TrialEndsAt
	}
	if rec.CurrentPeriodEnd != nil {
		data["currentPeriodEnd"] = *rec.CurrentPeriodEnd
	}
	return data
}

func recordFromData(userID string, data map[string]interface{}) *billing.Record {
	return &billing.Record{
		UserID:               userID,
		StripeCustomerID:     getString(data, "stripeCustomerId"),
		StripeSubscriptionID: getString(data, "stripeSubscriptionId"),
		Status:               getString(data, "status"),
		Tier:                 getString(data, "tier"),
		TrialEndsAt:          getTimePtr(data, "trialEndsAt"),
		CurrentPeriodEnd:     getTimePtr(data, "currentPeriodEnd"),
		CancelAtPeriodEnd:    getBool(data, "cancelAtPeriodEnd"),
		UpdatedAt:            getTime(data, "updatedAt"),
	}
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	v, ok := data[key].(time.Time)
	if !ok || v.IsZero() {
		return nil
	}
	v = v.UTC()
	return &v
}
