package resilience

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetryOptions keeps backoff sleeps negligible in tests.
func fastRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Timeout:      time.Second,
		Rand:         rand.New(rand.NewSource(1)),
	}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	result := RetryWithBackoff(context.Background(), func(ctx context.Context) (string, error) {
		return "ok", nil
	}, fastRetryOptions())

	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Data)
	assert.Equal(t, 1, result.Attempts)
	assert.NoError(t, result.Err)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retriedAttempts []int

	opts := fastRetryOptions()
	opts.OnRetry = func(attempt int, err error) {
		retriedAttempts = append(retriedAttempts, attempt)
	}

	result := RetryWithBackoff(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, opts)

	assert.True(t, result.Success)
	assert.Equal(t, 42, result.Data)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []int{1, 2}, retriedAttempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("permanent")
	calls := 0

	result := RetryWithBackoff(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, sentinel
	}, fastRetryOptions())

	assert.False(t, result.Success)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Attempts)
	assert.ErrorIs(t, result.Err, sentinel)
}

func TestRetryAttemptTimeout(t *testing.T) {
	opts := fastRetryOptions()
	opts.MaxAttempts = 1
	opts.Timeout = 20 * time.Millisecond

	result := RetryWithBackoff(context.Background(), func(ctx context.Context) (int, error) {
		select {
		case <-time.After(time.Second):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}, opts)

	assert.False(t, result.Success)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "timed out")
}

func TestRetryStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := fastRetryOptions()
	opts.MaxAttempts = 5
	opts.InitialDelay = 100 * time.Millisecond
	opts.MaxDelay = 100 * time.Millisecond

	calls := 0
	opErr := errors.New("boom")
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := RetryWithBackoff(ctx, func(ctx context.Context) (int, error) {
		calls++
		return 0, opErr
	}, opts)

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	// The operation's error is preserved, not the cancellation.
	assert.ErrorIs(t, result.Err, opErr)
}

func TestBackoffDelayBounds(t *testing.T) {
	opts := RetryOptions{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Rand:         rand.New(rand.NewSource(99)),
	}

	for attempt := 1; attempt <= 10; attempt++ {
		base := float64(opts.InitialDelay) * pow(opts.Multiplier, attempt-1)
		if base > float64(opts.MaxDelay) {
			base = float64(opts.MaxDelay)
		}

		delay := backoffDelay(attempt, opts)

		assert.GreaterOrEqual(t, float64(delay), 0.8*base,
			"attempt %d: delay below jitter floor", attempt)
		assert.Less(t, float64(delay), 1.2*base,
			"attempt %d: delay above jitter ceiling", attempt)
	}
}

func TestBackoffDelayDeterministicWithSeededRand(t *testing.T) {
	a := RetryOptions{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2.0, Rand: rand.New(rand.NewSource(5))}
	b := RetryOptions{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2.0, Rand: rand.New(rand.NewSource(5))}

	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, backoffDelay(attempt, a), backoffDelay(attempt, b))
	}
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for range exp {
		result *= base
	}
	return result
}
