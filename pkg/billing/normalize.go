package billing

import (
	"context"
	"fmt"
	"time"
)

// Normalize maps a provider subscription to the internal status, tier and
// trial end. It is a pure function of raw.
//
//	trialing -> trial/trial (trial end kept when present)
//	active   -> active/paid
//	past_due -> past_due/paid
//	other    -> <raw status>/free
func Normalize(raw *RawSubscription) Result {
	switch raw.Status {
	case providerStatusTrialing:
		res := Result{Status: StatusTrial, Tier: TierTrial}
		if raw.TrialEnd != nil {
			res.TrialEndsAt = epochToTime(*raw.TrialEnd)
		}
		return res
	case providerStatusActive:
		return Result{Status: StatusActive, Tier: TierPaid}
	case providerStatusPastDue:
		return Result{Status: StatusPastDue, Tier: TierPaid}
	default:
		return Result{Status: raw.Status, Tier: TierFree}
	}
}

// Normalizer applies Normalize and persists the outcome.
type Normalizer struct {
	store      Store
	timeSource TimeSource
	strict     bool
	logger     Logger
	metrics    Metrics
}

// NewNormalizer builds a Normalizer from the store, clock and policy in config.
func NewNormalizer(config Config) (*Normalizer, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg := config.withDefaults()
	return &Normalizer{
		store:      cfg.Store,
		timeSource: cfg.TimeSource,
		strict:     cfg.StrictWrites,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Apply normalizes raw and overwrites the user's record with it.
// A failed upsert is logged and, unless strict writes are enabled, the
// normalized result is returned anyway.
func (n *Normalizer) Apply(ctx context.Context, userID string, raw *RawSubscription) (*Result, error) {
	res := Normalize(raw)

	rec := &Record{
		UserID:               userID,
		StripeCustomerID:     raw.CustomerID,
		StripeSubscriptionID: raw.ID,
		Status:               res.Status,
		Tier:                 res.Tier,
		TrialEndsAt:          res.TrialEndsAt,
		CurrentPeriodEnd:     epochToTime(raw.CurrentPeriodEnd),
		CancelAtPeriodEnd:    raw.CancelAtPeriodEnd,
		UpdatedAt:            n.now(ctx),
	}

	if err := n.store.UpsertSubscription(ctx, rec); err != nil {
		n.metrics.RecordStoreWriteFailure("normalize")
		n.logger.Error("failed to persist normalized subscription",
			Field{"user_id", userID},
			Field{"subscription_id", raw.ID},
			Field{"status", res.Status},
			Field{"error", err.Error()},
		)
		if n.strict {
			return nil, fmt.Errorf("upsert subscription: %w: %w", ErrStoreUnavailable, err)
		}
	}

	return &res, nil
}

func (n *Normalizer) now(ctx context.Context) time.Time {
	if n.timeSource != nil {
		t, err := n.timeSource.Now(ctx)
		if err == nil {
			return t.UTC()
		}
		n.logger.Warn("time source failed, using local clock", Field{"error", err.Error()})
	}
	return time.Now().UTC()
}
