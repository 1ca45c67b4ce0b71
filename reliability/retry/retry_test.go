package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tozevv/reliability-patterns/reliability/circuitbreaker"
	"github.com/tozevv/reliability-patterns/reliability/log"
)

var errDownstream = errors.New("downstream failure")

func newBreaker(t *testing.T, cfg circuitbreaker.Config) *circuitbreaker.Breaker {
	t.Helper()

	b, err := circuitbreaker.New(cfg, &log.NoneLogger{})
	require.NoError(t, err)

	return b
}

func TestExecuteWithRetries_SucceedsFirstAttempt(t *testing.T) {
	b := newBreaker(t, circuitbreaker.DefaultConfig())

	var calls atomic.Int32

	err := ExecuteWithRetries(context.Background(), b, func() error {
		calls.Add(1)

		return nil
	}, 5, 0)

	assert.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteWithRetries_RecoversAfterTrips(t *testing.T) {
	// Threshold 1 with a short cooldown: each failure trips the breaker and
	// the next attempt arrives after the half-open transition.
	b := newBreaker(t, circuitbreaker.Config{
		Threshold: 1,
		Timeout:   5 * time.Millisecond,
	})

	var calls atomic.Int32

	err := ExecuteWithRetries(context.Background(), b, func() error {
		if calls.Add(1) <= 2 {
			return errDownstream
		}

		return nil
	}, 5, 50*time.Millisecond)

	assert.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "two failures then one success")
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}

func TestExecuteWithRetries_ExhaustsBudgetAndWrapsCause(t *testing.T) {
	b := newBreaker(t, circuitbreaker.Config{
		Threshold: 1,
		Timeout:   5 * time.Millisecond,
	})

	var calls atomic.Int32

	err := ExecuteWithRetries(context.Background(), b, func() error {
		calls.Add(1)

		return errDownstream
	}, 3, 50*time.Millisecond)

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errDownstream)
	assert.NotErrorIs(t, err, ErrGaveUpWaiting)
}

func TestExecuteWithRetries_AllAttemptsBlocked(t *testing.T) {
	b := newBreaker(t, circuitbreaker.Config{
		Threshold: 1,
		Timeout:   time.Hour,
	})

	b.Trip()
	require.False(t, b.AllowedToAttemptExecute())

	var calls atomic.Int32

	err := ExecuteWithRetries(context.Background(), b, func() error {
		calls.Add(1)

		return nil
	}, 3, 0)

	require.Error(t, err)
	assert.Equal(t, int32(0), calls.Load(), "blocked attempts never invoke the operation")
	assert.ErrorIs(t, err, ErrGaveUpWaiting)

	var exhausted *ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestExecuteWithRetries_BlockedAfterFailureKeepsCause(t *testing.T) {
	// One real failure trips the breaker for good; the remaining budget is
	// consumed by blocked attempts. The terminal error still carries the
	// failure recorded earlier.
	b := newBreaker(t, circuitbreaker.Config{
		Threshold: 1,
		Timeout:   time.Hour,
	})

	err := ExecuteWithRetries(context.Background(), b, func() error {
		return errDownstream
	}, 4, 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, errDownstream)
	assert.NotErrorIs(t, err, ErrGaveUpWaiting)
}

func TestExecuteWithRetries_InvalidAllowedRetries(t *testing.T) {
	b := newBreaker(t, circuitbreaker.DefaultConfig())

	for _, invalid := range []int{0, -1} {
		err := ExecuteWithRetries(context.Background(), b, func() error { return nil }, invalid, 0)
		assert.Error(t, err)
	}
}

func TestExecuteWithRetries_ContextCancelsSleep(t *testing.T) {
	b := newBreaker(t, circuitbreaker.Config{
		Threshold: 1,
		Timeout:   time.Hour,
	})

	b.Trip()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := ExecuteWithRetries(ctx, b, func() error { return nil }, 10, time.Hour)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
