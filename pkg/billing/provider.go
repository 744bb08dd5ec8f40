package billing

import (
	"context"
	"time"
)

// Store is the local persistence the reconciler depends on.
// Absent rows are reported as (nil, nil); errors always mean the store
// itself failed.
type Store interface {
	// GetSubscription returns the user's subscription record, or nil if none exists.
	GetSubscription(ctx context.Context, userID string) (*Record, error)

	// GetProfile returns the user's profile, or nil if none exists.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// UpsertSubscription inserts or fully overwrites the record keyed on UserID.
	UpsertSubscription(ctx context.Context, rec *Record) error
}

// Ledger is the read-only view of the billing provider.
type Ledger interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// GetSubscription fetches a subscription by id.
	GetSubscription(ctx context.Context, subscriptionID string) (*RawSubscription, error)

	// LatestSubscription returns the customer's most recent subscription in
	// any status, or nil if the customer has none.
	LatestSubscription(ctx context.Context, customerID string) (*RawSubscription, error)

	// FindCustomersByEmail returns up to limit customer ids registered with email,
	// in provider order.
	FindCustomersByEmail(ctx context.Context, email string, limit int) ([]string, error)
}

// TimeSource defines an interface for getting time from the storage engine.
// Stores that implement it stamp UpdatedAt with their own clock.
type TimeSource interface {
	Now(ctx context.Context) (time.Time, error)
}
