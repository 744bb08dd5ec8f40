package billing

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	testUserID         = "6f1c2a4e-9b7d-4c3e-8a15-2f0d9e6b7a11"
	testOtherUserID    = "0b9e8d7c-6a5f-4e3d-9c2b-1a0f9e8d7c6b"
	testCustomerID     = "cus_test_123"
	testSubscriptionID = "sub_test_123"
	testEmail          = "ada@example.com"
)

var errBoom = errors.New("boom")

// fakeStore is an in-memory Store that counts calls.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]Record
	profiles map[string]Profile

	getErr     error
	profileErr error
	upsertErr  error

	gets        int
	profileGets int
	upserts     []Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[string]Record),
		profiles: make(map[string]Profile),
	}
}

func (s *fakeStore) GetSubscription(_ context.Context, userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *fakeStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileGets++
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *fakeStore) UpsertSubscription(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, *rec)
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.records[rec.UserID] = *rec
	return nil
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets + s.profileGets + len(s.upserts)
}

// fakeLedger serves canned provider data and counts lookups per operation.
type fakeLedger struct {
	mu            sync.Mutex
	subscriptions map[string]*RawSubscription // by subscription id
	latest        map[string]*RawSubscription // by customer id
	customers     map[string][]string         // by email

	getErr    error
	latestErr error
	findErr   error

	getCalls    int
	latestCalls []string
	findCalls   int
	findLimits  []int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		subscriptions: make(map[string]*RawSubscription),
		latest:        make(map[string]*RawSubscription),
		customers:     make(map[string][]string),
	}
}

func (l *fakeLedger) Name() string { return "fake" }

func (l *fakeLedger) GetSubscription(_ context.Context, id string) (*RawSubscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.getCalls++
	if l.getErr != nil {
		return nil, l.getErr
	}
	sub, ok := l.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (l *fakeLedger) LatestSubscription(_ context.Context, customerID string) (*RawSubscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latestCalls = append(l.latestCalls, customerID)
	if l.latestErr != nil {
		return nil, l.latestErr
	}
	return l.latest[customerID], nil
}

func (l *fakeLedger) FindCustomersByEmail(_ context.Context, email string, limit int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.findCalls++
	l.findLimits = append(l.findLimits, limit)
	if l.findErr != nil {
		return nil, l.findErr
	}
	return l.customers[email], nil
}

func (l *fakeLedger) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getCalls + len(l.latestCalls) + l.findCalls
}

// stepClock advances by one second on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now(context.Context) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now, nil
}

func int64Ptr(v int64) *int64 { return &v }
