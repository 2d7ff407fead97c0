// Package resilience provides the failure-handling primitives used around
// external calls: retry with exponential backoff and jitter, a circuit
// breaker, and a bounded-concurrency batch runner. The three are independent
// and composable.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Default retry tuning. Callers override via RetryOptions.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialDelay   = 1 * time.Second
	DefaultMaxDelay       = 10 * time.Second
	DefaultMultiplier     = 2.0
	DefaultAttemptTimeout = 30 * time.Second

	// jitterSpread is the total width of the uniform jitter window (+-20%).
	jitterSpread = 0.4
)

// RetryOptions configures RetryWithBackoff. The zero value picks the
// defaults above.
type RetryOptions struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the exponentially growing delay
	MaxDelay time.Duration

	// Multiplier is the backoff growth factor per retry
	Multiplier float64

	// Timeout bounds each individual attempt
	Timeout time.Duration

	// OnRetry is called before each retry with the attempt number that
	// just failed and its error
	OnRetry func(attempt int, err error)

	// Rand is the jitter source. Injectable so backoff timing is
	// deterministic under test; defaults to a time-seeded source.
	Rand *rand.Rand
}

func (o *RetryOptions) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Multiplier <= 0 {
		o.Multiplier = DefaultMultiplier
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultAttemptTimeout
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
}

// RetryResult reports the outcome of a retried operation.
type RetryResult[T any] struct {
	// Success is true when some attempt completed without error
	Success bool

	// Data is the result of the successful attempt
	Data T

	// Err is the error from the last attempt when all attempts failed
	Err error

	// Attempts is the number of attempts actually made
	Attempts int

	// TotalTime is the wall-clock time spent, including backoff sleeps
	TotalTime time.Duration
}

// RetryWithBackoff runs op until it succeeds or opts.MaxAttempts is
// exhausted. Each attempt races against opts.Timeout; between attempts the
// runner sleeps min(InitialDelay*Multiplier^(k-1), MaxDelay) with +-20%
// uniform jitter. The last error is always preserved in the result.
func RetryWithBackoff[T any](ctx context.Context, op func(context.Context) (T, error), opts RetryOptions) RetryResult[T] {
	opts.applyDefaults()
	start := time.Now()

	var result RetryResult[T]
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result.Attempts = attempt

		data, err := runWithTimeout(ctx, op, opts.Timeout)
		if err == nil {
			result.Success = true
			result.Data = data
			result.TotalTime = time.Since(start)
			return result
		}
		result.Err = err

		if attempt == opts.MaxAttempts {
			break
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}

		if sleepErr := sleepContext(ctx, backoffDelay(attempt, opts)); sleepErr != nil {
			// Parent context cancelled during backoff - stop retrying but
			// keep the operation's error as the cause.
			result.TotalTime = time.Since(start)
			return result
		}
	}

	result.TotalTime = time.Since(start)
	return result
}

// backoffDelay computes the jittered delay after the given failed attempt
// (1-indexed).
func backoffDelay(attempt int, opts RetryOptions) time.Duration {
	base := float64(opts.InitialDelay) * math.Pow(opts.Multiplier, float64(attempt-1))
	if base > float64(opts.MaxDelay) {
		base = float64(opts.MaxDelay)
	}

	// Uniform jitter in [0.8, 1.2) of the base delay.
	factor := 1 - jitterSpread/2 + jitterSpread*opts.Rand.Float64()
	return time.Duration(base * factor)
}

// runWithTimeout races a single attempt against its timeout. The operation
// receives a context that expires at the deadline; a goroutine collects its
// result so a non-cooperative operation cannot stall the retry loop.
func runWithTimeout[T any](ctx context.Context, op func(context.Context) (T, error), timeout time.Duration) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data T
		err  error
	}

	done := make(chan outcome, 1)
	go func() {
		data, err := op(attemptCtx)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-attemptCtx.Done():
		var zero T
		return zero, fmt.Errorf("attempt timed out after %s: %w", timeout, attemptCtx.Err())
	}
}

// sleepContext sleeps for d unless ctx is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
