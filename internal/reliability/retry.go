package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether and when a failed attempt is retried.
type RetryPolicy interface {
	// ShouldRetry reports whether attempt (zero-based) should be retried
	// and, if so, after what delay.
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// NextDelay returns the delay before the given attempt.
	NextDelay(attempt int) time.Duration
	// MaxAttempts returns the attempt budget.
	MaxAttempts() int
}

// ExponentialBackoff grows the delay geometrically from Base up to Cap,
// with ±15% jitter.
type ExponentialBackoff struct {
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64
	Attempts   int
	Jitter     bool
}

// NewExponentialBackoff builds the standard doubling policy.
func NewExponentialBackoff(base, cap time.Duration, attempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:       base,
		Cap:        cap,
		Multiplier: 2.0,
		Attempts:   attempts,
		Jitter:     true,
	}
}

func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.Attempts || !isRetryable(err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.Base) * math.Pow(e.Multiplier, float64(attempt))
	if cap := float64(e.Cap); delay > cap {
		delay = cap
	}
	if e.Jitter {
		delay += (rand.Float64() - 0.5) * 0.3 * delay
	}
	return time.Duration(delay)
}

func (e *ExponentialBackoff) MaxAttempts() int { return e.Attempts }

// FixedDelay retries at a constant interval.
type FixedDelay struct {
	Delay    time.Duration
	Attempts int
}

func NewFixedDelay(delay time.Duration, attempts int) *FixedDelay {
	return &FixedDelay{Delay: delay, Attempts: attempts}
}

func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.Attempts || !isRetryable(err) {
		return false, 0
	}
	return true, f.Delay
}

func (f *FixedDelay) NextDelay(int) time.Duration { return f.Delay }

func (f *FixedDelay) MaxAttempts() int { return f.Attempts }

// Retry runs fn until it succeeds, the policy gives up, or ctx ends.
// The last error is returned on give-up; ctx errors win over fn errors.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		retry, delay := policy.ShouldRetry(attempt, lastErr)
		if !retry {
			return lastErr
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// MarkNonRetryable wraps err so Retry and the reconnect loop stop on it.
func MarkNonRetryable(err error) error {
	return terminalError{err}
}

type terminalError struct{ err error }

func (t terminalError) Error() string     { return t.err.Error() }
func (t terminalError) Unwrap() error     { return t.err }
func (t terminalError) IsRetryable() bool { return false }

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	type retryable interface{ IsRetryable() bool }
	var r retryable
	for e := err; e != nil; {
		if rr, ok := e.(retryable); ok {
			r = rr
			break
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := e.(unwrapper)
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if r != nil {
		return r.IsRetryable()
	}
	// Unknown errors default to retryable.
	return true
}
