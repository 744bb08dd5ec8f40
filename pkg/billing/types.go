package billing

import (
	"encoding/json"
	"time"
)

// Internal subscription statuses. Any other provider status is stored verbatim.
const (
	StatusFree              = "free"
	StatusTrial             = "trial"
	StatusActive            = "active"
	StatusPastDue           = "past_due"
	StatusCanceled          = "canceled"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusUnpaid            = "unpaid"
)

// Feature-gating tiers derived from the status.
const (
	TierFree  = "free"
	TierTrial = "trial"
	TierPaid  = "paid"
)

// Provider status vocabulary the normalizer branches on.
const (
	providerStatusTrialing = "trialing"
	providerStatusActive   = "active"
	providerStatusPastDue  = "past_due"
)

// Record is the locally persisted subscription state of a user.
// There is at most one Record per UserID.
type Record struct {
	UserID string

	// StripeCustomerID and StripeSubscriptionID are empty until the user
	// has been linked to the billing provider.
	StripeCustomerID     string
	StripeSubscriptionID string

	Status string
	Tier   string

	TrialEndsAt       *time.Time
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool

	UpdatedAt time.Time
}

// HasSubscription reports whether the record is linked to a provider subscription.
func (r *Record) HasSubscription() bool {
	return r != nil && r.StripeSubscriptionID != ""
}

// HasCustomer reports whether the record is linked to a provider customer.
func (r *Record) HasCustomer() bool {
	return r != nil && r.StripeCustomerID != ""
}

// Profile is the subset of the account profile used for email lookups.
type Profile struct {
	UserID string
	Email  string
}

// RawSubscription is the provider's view of a subscription.
// It is read-only to this package.
type RawSubscription struct {
	ID         string
	CustomerID string
	Status     string

	// TrialEnd is epoch seconds, nil when the subscription never had a trial.
	TrialEnd          *int64
	CurrentPeriodEnd  int64
	CancelAtPeriodEnd bool
}

// Result is the normalized state returned to callers.
type Result struct {
	Status      string
	Tier        string
	TrialEndsAt *time.Time
}

// DefaultResult is returned when no strategy finds a subscription.
func DefaultResult() *Result {
	return &Result{Status: StatusFree, Tier: TierFree}
}

// timestampLayout renders RFC 3339 UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type resultJSON struct {
	Status      string  `json:"status"`
	Tier        string  `json:"tier"`
	TrialEndsAt *string `json:"trial_ends_at"`
}

// MarshalJSON encodes a nil trial end as null.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{Status: r.Status, Tier: r.Tier}
	if r.TrialEndsAt != nil {
		s := FormatTimestamp(*r.TrialEndsAt)
		out.TrialEndsAt = &s
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Status = in.Status
	r.Tier = in.Tier
	r.TrialEndsAt = nil
	if in.TrialEndsAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *in.TrialEndsAt)
		if err != nil {
			return err
		}
		t = t.UTC()
		r.TrialEndsAt = &t
	}
	return nil
}

// FormatTimestamp formats t the way results are serialized.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// epochToTime converts epoch seconds to a UTC time.
func epochToTime(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}
