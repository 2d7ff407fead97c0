package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default circuit breaker tuning.
const (
	DefaultFailureThreshold  = 5
	DefaultOpenTimeout       = 60 * time.Second
	DefaultHalfOpenSuccesses = 2
)

// ErrCircuitOpen is returned by Execute when the breaker rejects a call
// without invoking the operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker's current state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// CircuitBreaker halts calls to a failing dependency for a cooldown window.
// State transitions: closed -> open after FailureThreshold consecutive
// failures; open -> half-open once the cooldown elapses; half-open -> closed
// after HalfOpenSuccesses consecutive successes, or back to open on any
// single failure.
//
// A CircuitBreaker is safe for concurrent use. One instance is shared
// process-wide across all documents so that a failing downstream dependency
// trips fast for every caller, not just the document that burned through the
// failure budget.
type CircuitBreaker struct {
	failureThreshold  int
	openTimeout       time.Duration
	halfOpenSuccesses int

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	// now is overridable under test
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments pick
// the package defaults.
func NewCircuitBreaker(failureThreshold int, openTimeout time.Duration, halfOpenSuccesses int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if openTimeout <= 0 {
		openTimeout = DefaultOpenTimeout
	}
	if halfOpenSuccesses <= 0 {
		halfOpenSuccesses = DefaultHalfOpenSuccesses
	}

	return &CircuitBreaker{
		failureThreshold:  failureThreshold,
		openTimeout:       openTimeout,
		halfOpenSuccesses: halfOpenSuccesses,
		state:             StateClosed,
		now:               time.Now,
	}
}

// Execute runs fn under the breaker's protection. When the breaker is open
// and the cooldown has not elapsed, the call is rejected immediately with
// ErrCircuitOpen and fn is never invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterCall(err)
	return err
}

// beforeCall gates the call on the current state, transitioning open ->
// half-open when the cooldown has elapsed.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) < cb.openTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
	}

	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

// recordFailure must be called with the mutex held.
func (cb *CircuitBreaker) recordFailure() {
	switch cb.state {
	case StateHalfOpen:
		// Single strike: any failure during probing reopens immediately.
		cb.state = StateOpen
		cb.successCount = 0
		cb.lastFailureTime = cb.now()
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
			cb.lastFailureTime = cb.now()
		}
	}
}

// recordSuccess must be called with the mutex held.
func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenSuccesses {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the current failure and half-open success counters.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount, cb.successCount
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
}
