package billing

import (
	"context"
	"fmt"
)

// CurrentTier returns the tier stored for userID. Users without a record are
// on TierFree. It reads only local state and never calls the provider.
func CurrentTier(ctx context.Context, store Store, userID string) (string, error) {
	rec, err := store.GetSubscription(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if rec == nil || rec.Tier == "" {
		return TierFree, nil
	}
	return rec.Tier, nil
}

// TierAllowed reports whether tier is one of allowed.
func TierAllowed(tier string, allowed []string) bool {
	for _, a := range allowed {
		if a == tier {
			return true
		}
	}
	return false
}
