package reliability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrCircuitOpen          = errors.New("circuit breaker: circuit is open")
	ErrCircuitHalfOpenLimit = errors.New("circuit breaker: half-open request limit reached")
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after consecutive failures and probes recovery with a
// bounded number of half-open requests.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           BreakerState
	failures        int
	successes       int
	halfOpenInUse   int
	lastFailureTime time.Time

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	halfOpenRequests int
}

// BreakerOption configures the circuit breaker.
type BreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures trip the breaker.
func WithFailureThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.failureThreshold = n }
}

// WithSuccessThreshold sets how many half-open successes close the breaker.
func WithSuccessThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.successThreshold = n }
}

// WithOpenTimeout sets how long the breaker stays open before probing.
func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.openTimeout = d }
}

// WithHalfOpenRequests caps concurrent probes in the half-open state.
func WithHalfOpenRequests(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.halfOpenRequests = n }
}

// NewCircuitBreaker creates a circuit breaker with conservative defaults.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: 5,
		successThreshold: 2,
		openTimeout:      30 * time.Second,
		halfOpenRequests: 1,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn under breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		cb.release(ctx.Err())
		return ctx.Err()
	default:
	}
	err := fn()
	cb.release(err)
	return err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case BreakerOpen:
		return fmt.Errorf("%w (retry in %v)", ErrCircuitOpen,
			time.Until(cb.lastFailureTime.Add(cb.openTimeout)).Round(time.Second))
	case BreakerHalfOpen:
		if cb.halfOpenInUse >= cb.halfOpenRequests {
			return ErrCircuitHalfOpenLimit
		}
		cb.halfOpenInUse++
	}
	return nil
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.stateLocked()
	if state == BreakerHalfOpen {
		cb.halfOpenInUse--
	}

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.lastFailureTime = time.Now()
		if state == BreakerHalfOpen || cb.failures >= cb.failureThreshold {
			cb.state = BreakerOpen
		}
		return
	}

	switch state {
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
		}
	case BreakerClosed:
		cb.failures = 0
	}
}

// stateLocked applies the open -> half-open transition lazily.
func (cb *CircuitBreaker) stateLocked() BreakerState {
	if cb.state == BreakerOpen && time.Since(cb.lastFailureTime) >= cb.openTimeout {
		cb.state = BreakerHalfOpen
		cb.successes = 0
		cb.halfOpenInUse = 0
	}
	return cb.state
}
