package billing

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// CircuitBreaker defines the interface for a circuit breaker.
type CircuitBreaker interface {
	// Execute executes the given function within the circuit breaker.
	Execute(ctx context.Context, fn func() error) error
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker opens after failureThreshold consecutive failures and
// lets a single probe through once resetTimeout has elapsed.
type DefaultCircuitBreaker struct {
	mu sync.RWMutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureTime     time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a new default circuit breaker.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

func (cb *DefaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *DefaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	if cb.State() == StateOpen {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		cb.failure()
		return err
	}

	cb.success()
	return nil
}

func (cb *DefaultCircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.changeState(StateClosed)
	}
	cb.consecutiveFailures = 0
}

func (cb *DefaultCircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// a failed half-open probe re-opens the circuit
	halfOpen := cb.currentState() == StateHalfOpen

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if halfOpen || (cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold) {
		cb.changeState(StateOpen)
	}
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}

// CircuitBreakerLedger wraps a Ledger with circuit breaker protection.
// An open circuit surfaces as ErrCircuitOpen, which the reconciler treats
// like any other provider failure. Answers about a single resource, such as
// an unknown subscription id or a rejected request, do not count as failures.
type CircuitBreakerLedger struct {
	ledger Ledger
	cb     CircuitBreaker
}

// NewCircuitBreakerLedger creates a new ledger wrapper with circuit breaker.
func NewCircuitBreakerLedger(ledger Ledger, cb CircuitBreaker) *CircuitBreakerLedger {
	return &CircuitBreakerLedger{
		ledger: ledger,
		cb:     cb,
	}
}

func (l *CircuitBreakerLedger) Name() string {
	return l.ledger.Name()
}

func (l *CircuitBreakerLedger) GetSubscription(ctx context.Context, subscriptionID string) (*RawSubscription, error) {
	var (
		raw     *RawSubscription
		callErr error
	)
	err := l.cb.Execute(ctx, func() error {
		raw, callErr = l.ledger.GetSubscription(ctx, subscriptionID)
		return tripping(callErr)
	})
	if callErr != nil {
		return nil, callErr
	}
	return raw, err
}

func (l *CircuitBreakerLedger) LatestSubscription(ctx context.Context, customerID string) (*RawSubscription, error) {
	var (
		raw     *RawSubscription
		callErr error
	)
	err := l.cb.Execute(ctx, func() error {
		raw, callErr = l.ledger.LatestSubscription(ctx, customerID)
		return tripping(callErr)
	})
	if callErr != nil {
		return nil, callErr
	}
	return raw, err
}

func (l *CircuitBreakerLedger) FindCustomersByEmail(ctx context.Context, email string, limit int) ([]string, error) {
	var (
		ids     []string
		callErr error
	)
	err := l.cb.Execute(ctx, func() error {
		ids, callErr = l.ledger.FindCustomersByEmail(ctx, email, limit)
		return tripping(callErr)
	})
	if callErr != nil {
		return nil, callErr
	}
	return ids, err
}

// tripping drops errors that say nothing about the provider's health.
func tripping(err error) error {
	if errors.Is(err, ErrSubscriptionNotFound) || errors.Is(err, ErrRequestRejected) {
		return nil
	}
	return err
}
