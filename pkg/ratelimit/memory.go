package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCleanupInterval = 5 * time.Minute
	defaultIdleTTL         = 10 * time.Minute
)

type keyLimiter struct {
	limiter  *rate.Limiter
	policy   Policy
	lastSeen time.Time
}

// MemoryLimiter is a token-bucket limiter kept in process memory. Each key
// refills at Limit per Window with a burst of Limit. Suitable for a single
// instance; use the Redis limiter when several instances share callers.
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	now      func() time.Time
	idleTTL  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates a MemoryLimiter and starts its idle-key sweeper.
// Call Stop to release the sweeper goroutine.
func NewMemoryLimiter() *MemoryLimiter {
	m := newMemoryLimiter(time.Now)
	go m.cleanup(defaultCleanupInterval)
	return m
}

func newMemoryLimiter(now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		limiters: make(map[string]*keyLimiter),
		now:      now,
		idleTTL:  defaultIdleTTL,
		stopCh:   make(chan struct{}),
	}
}

// Allow implements Limiter.
func (m *MemoryLimiter) Allow(_ context.Context, key string, policy Policy) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	now := m.now()
	l := m.get(key, policy, now)

	reservation := l.ReserveN(now, 1)
	if d := reservation.DelayFrom(now); d > 0 {
		// Return the token; this request is rejected.
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: d}, nil
	}

	remaining := int(math.Floor(l.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

func (m *MemoryLimiter) get(key string, policy Policy, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	kl, ok := m.limiters[key]
	if !ok || kl.policy != policy {
		every := rate.Every(policy.Window / time.Duration(policy.Limit))
		kl = &keyLimiter{
			limiter: rate.NewLimiter(every, policy.Limit),
			policy:  policy,
		}
		m.limiters[key] = kl
	}
	kl.lastSeen = now
	return kl.limiter
}

func (m *MemoryLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryLimiter) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, kl := range m.limiters {
		if now.Sub(kl.lastSeen) > m.idleTTL {
			delete(m.limiters, key)
		}
	}
}

// Stop shuts down the sweeper. It is safe to call multiple times.
func (m *MemoryLimiter) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
