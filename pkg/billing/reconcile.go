package billing

import (
	"context"
	"fmt"
	"time"
)

// Strategy names, also used as metric and log labels.
const (
	StrategySubscriptionID = "subscription_id"
	StrategyCustomerID     = "customer_id"
	StrategyEmail          = "email"
	StrategyNone           = "none"
)

// lookup locates the user's live subscription. It returns (nil, nil) when the
// strategy does not apply or found nothing.
type lookup func(ctx context.Context, userID string, rec *Record) (*RawSubscription, error)

type strategy struct {
	name string
	find lookup
}

// Reconciler determines a user's authoritative subscription state.
type Reconciler struct {
	store         Store
	ledger        Ledger
	normalizer    *Normalizer
	maxCandidates int
	strict        bool
	logger        Logger
	metrics       Metrics
	strategies    []strategy
}

// NewReconciler creates a Reconciler.
func NewReconciler(config Config) (*Reconciler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg := config.withDefaults()

	normalizer, err := NewNormalizer(cfg)
	if err != nil {
		return nil, err
	}

	r := &Reconciler{
		store:         cfg.Store,
		ledger:        cfg.Ledger,
		normalizer:    normalizer,
		maxCandidates: cfg.MaxEmailCandidates,
		strict:        cfg.StrictWrites,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
	// Cheapest and most authoritative first.
	r.strategies = []strategy{
		{name: StrategySubscriptionID, find: r.bySubscriptionID},
		{name: StrategyCustomerID, find: r.byCustomerID},
		{name: StrategyEmail, find: r.byEmail},
	}
	return r, nil
}

// Reconcile resolves the user's subscription against the billing provider and
// persists the normalized state. Users with no subscription anywhere get the
// free default and nothing is written.
//
// Store and provider failures are fatal; a provider error never falls
// through to the next strategy.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (*Result, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	start := time.Now()
	provider := r.ledger.Name()

	rec, err := r.store.GetSubscription(ctx, userID)
	if err != nil {
		r.fail(userID, "", err)
		return nil, fmt.Errorf("get subscription: %w: %w", ErrStoreUnavailable, err)
	}

	for _, s := range r.strategies {
		raw, err := s.find(ctx, userID, rec)
		if err != nil {
			r.fail(userID, s.name, err)
			return nil, fmt.Errorf("strategy %s: %w", s.name, err)
		}
		if raw == nil {
			continue
		}

		res, err := r.normalizer.Apply(ctx, userID, raw)
		if err != nil {
			r.fail(userID, s.name, err)
			return nil, err
		}

		previous := TierFree
		if rec != nil && rec.Tier != "" {
			previous = rec.Tier
		}
		if previous != res.Tier {
			r.metrics.RecordTierChange(provider, previous, res.Tier)
		}

		r.logger.Debug("subscription reconciled",
			Field{"user_id", userID},
			Field{"strategy", s.name},
			Field{"status", res.Status},
			Field{"tier", res.Tier},
		)
		r.metrics.RecordReconcile(provider, s.name, "success")
		r.metrics.RecordReconcileDuration(provider, time.Since(start))
		return res, nil
	}

	r.metrics.RecordReconcile(provider, StrategyNone, "success")
	r.metrics.RecordReconcileDuration(provider, time.Since(start))
	return DefaultResult(), nil
}

func (r *Reconciler) fail(userID, strategy string, err error) {
	provider := r.ledger.Name()
	if strategy == "" {
		strategy = StrategyNone
	}
	r.logger.Error("reconciliation failed",
		Field{"user_id", userID},
		Field{"strategy", strategy},
		Field{"error", err.Error()},
	)
	r.metrics.RecordReconcile(provider, strategy, "error")
}

// bySubscriptionID fetches the linked subscription directly.
func (r *Reconciler) bySubscriptionID(ctx context.Context, _ string, rec *Record) (*RawSubscription, error) {
	if !rec.HasSubscription() {
		return nil, nil
	}
	raw, err := r.ledger.GetSubscription(ctx, rec.StripeSubscriptionID)
	if err != nil {
		return nil, providerError(err)
	}
	return raw, nil
}

// byCustomerID takes the linked customer's most recent subscription.
func (r *Reconciler) byCustomerID(ctx context.Context, _ string, rec *Record) (*RawSubscription, error) {
	if rec.HasSubscription() || !rec.HasCustomer() {
		return nil, nil
	}
	raw, err := r.ledger.LatestSubscription(ctx, rec.StripeCustomerID)
	if err != nil {
		return nil, providerError(err)
	}
	return raw, nil
}

// byEmail searches the provider for customers sharing the profile email and
// links the first one that has a subscription before returning it.
func (r *Reconciler) byEmail(ctx context.Context, userID string, rec *Record) (*RawSubscription, error) {
	if rec.HasSubscription() {
		return nil, nil
	}

	profile, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w: %w", ErrStoreUnavailable, err)
	}
	if profile == nil || profile.Email == "" {
		return nil, nil
	}

	customers, err := r.ledger.FindCustomersByEmail(ctx, profile.Email, r.maxCandidates)
	if err != nil {
		return nil, providerError(err)
	}
	if len(customers) > r.maxCandidates {
		customers = customers[:r.maxCandidates]
	}

	for _, customerID := range customers {
		// already answered by the customer id lookup
		if rec.HasCustomer() && customerID == rec.StripeCustomerID {
			continue
		}
		raw, err := r.ledger.LatestSubscription(ctx, customerID)
		if err != nil {
			return nil, providerError(err)
		}
		if raw == nil {
			continue
		}
		if err := r.backfill(ctx, userID, customerID); err != nil {
			return nil, err
		}
		return raw, nil
	}
	return nil, nil
}

// backfill links the discovered customer so later calls take the fast path.
// The status fields are placeholders; the normalizer overwrites them.
func (r *Reconciler) backfill(ctx context.Context, userID, customerID string) error {
	rec := &Record{
		UserID:           userID,
		StripeCustomerID: customerID,
		Status:           StatusFree,
		Tier:             TierFree,
		UpdatedAt:        r.normalizer.now(ctx),
	}
	if err := r.store.UpsertSubscription(ctx, rec); err != nil {
		r.metrics.RecordStoreWriteFailure("backfill")
		r.logger.Warn("failed to backfill customer id",
			Field{"user_id", userID},
			Field{"customer_id", customerID},
			Field{"error", err.Error()},
		)
		if r.strict {
			return fmt.Errorf("backfill customer: %w: %w", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func providerError(err error) error {
	return fmt.Errorf("%w: %w", ErrProviderAPIError, err)
}
