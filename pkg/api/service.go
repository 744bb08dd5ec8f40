package api

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// Service runs reconciliations for the HTTP layer, optionally coalescing
// concurrent calls for the same user into one.
type Service struct {
	reconciler Reconciler
	coalesce   bool
	group      singleflight.Group
}

// NewService wraps reconciler.
func NewService(reconciler Reconciler, coalesce bool) *Service {
	return &Service{reconciler: reconciler, coalesce: coalesce}
}

// Sync reconciles userID. With coalescing on, callers that arrive while a
// reconciliation for the same user is running receive its outcome.
func (s *Service) Sync(ctx context.Context, userID string) (*billing.Result, error) {
	if !s.coalesce {
		return s.reconciler.Reconcile(ctx, userID)
	}

	v, err, _ := s.group.Do(userID, func() (interface{}, error) {
		return s.reconciler.Reconcile(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	res, _ := v.(*billing.Result)
	if res == nil {
		return nil, nil
	}
	out := *res
	return &out, nil
}
