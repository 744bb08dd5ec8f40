// Package memory provides an in-memory implementation of the billing.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// Storage implements billing.Store using in-memory maps
type Storage struct {
	mu            sync.RWMutex
	subscriptions map[string]*billing.Record
	profiles      map[string]*billing.Profile
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		subscriptions: make(map[string]*billing.Record),
		profiles:      make(map[string]*billing.Profile),
	}
}

// GetSubscription implements billing.Store
func (s *Storage) GetSubscription(_ context.Context, userID string) (*billing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.subscriptions[userID]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

// UpsertSubscription implements billing.Store. The stored row is replaced
// wholesale, so fields absent from rec are cleared.
func (s *Storage) UpsertSubscription(_ context.Context, rec *billing.Record) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[rec.UserID] = copyRecord(rec)
	return nil
}

// GetProfile implements billing.Store
func (s *Storage) GetProfile(_ context.Context, userID string) (*billing.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	pCopy := *p
	return &pCopy, nil
}

// SetProfile stores a profile. Profiles are owned by the identity system;
// this exists for development and tests.
func (s *Storage) SetProfile(_ context.Context, p *billing.Profile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("invalid profile")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pCopy := *p
	s.profiles[p.UserID] = &pCopy
	return nil
}

// Ping always succeeds.
func (s *Storage) Ping(_ context.Context) error {
	return nil
}

func copyRecord(rec *billing.Record) *billing.Record {
	out := *rec
	out.TrialEndsAt = copyTime(rec.TrialEndsAt)
	out.CurrentPeriodEnd = copyTime(rec.CurrentPeriodEnd)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
