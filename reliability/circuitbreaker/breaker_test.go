package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tozevv/reliability-patterns/reliability/log"
)

var errBoom = errors.New("boom")

func newTestBreaker(t *testing.T, cfg Config) *Breaker {
	t.Helper()

	b, err := New(cfg, &log.NoneLogger{})
	require.NoError(t, err)

	return b
}

func TestNew_Defaults(t *testing.T) {
	b, err := New(Config{}, nil)
	require.NoError(t, err)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, DefaultThreshold, b.Threshold())
	assert.Equal(t, DefaultTimeout, b.Timeout())
	assert.Equal(t, 0, b.FailureCount())
	assert.InDelta(t, 100.0, b.ServiceLevel(), 0.001)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "negative threshold", cfg: Config{Threshold: -1, Timeout: time.Second}},
		{name: "negative timeout", cfg: Config{Threshold: 3, Timeout: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.cfg, &log.NoneLogger{})
			assert.Nil(t, b)
			assert.Error(t, err)
		})
	}
}

func TestExecute_TripsAfterExactlyThresholdFailures(t *testing.T) {
	for _, threshold := range []int{1, 2, 5, 10} {
		b := newTestBreaker(t, Config{Threshold: threshold, Timeout: time.Minute})

		for i := 0; i < threshold; i++ {
			assert.Equal(t, StateClosed, b.State(), "threshold %d, before failure %d", threshold, i+1)

			err := b.Execute(func() error { return errBoom })
			require.Error(t, err)
		}

		assert.Equal(t, StateOpen, b.State(), "threshold %d", threshold)
		assert.Equal(t, threshold, b.FailureCount())
	}
}

func TestExecute_SuccessDecrementsFailureCount(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 5, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errBoom })
	}

	require.Equal(t, 3, b.FailureCount())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, 2, b.FailureCount())

	// Never driven below zero.
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Execute(func() error { return nil }))
	}

	assert.Equal(t, 0, b.FailureCount())
}

func TestExecute_OpenRejectsWithoutInvoking(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 1, Timeout: time.Minute})

	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error {
			calls.Add(1)

			return nil
		})

		assert.ErrorIs(t, err, ErrOpenCircuit)
	}

	assert.Equal(t, int32(0), calls.Load())
	assert.False(t, b.AllowedToAttemptExecute())
}

func TestExecute_WrapsOperationError(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 5, Timeout: time.Minute})

	err := b.Execute(func() error { return errBoom })

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrOpenCircuit)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, errBoom, opErr.Unwrap())
}

func TestExecute_NilOperation(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 5, Timeout: time.Minute})

	assert.ErrorIs(t, b.Execute(nil), ErrNilOperation)
	assert.Equal(t, 0, b.FailureCount())
}

func TestRecoveryTimer_OpenBecomesHalfOpenWithoutExecute(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 1, Timeout: 20 * time.Millisecond})

	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	assert.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	assert.True(t, b.AllowedToAttemptExecute())
}

func TestHalfOpen_FailingProbeReopens(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 1, Timeout: 20 * time.Millisecond})

	_ = b.Execute(func() error { return errBoom })

	require.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	err := b.Execute(func() error { return errBoom })
	require.ErrorIs(t, err, ErrOperationFailed)

	assert.Equal(t, StateOpen, b.State())

	// Timer was re-armed: the breaker probes again.
	assert.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)
}

func TestHalfOpen_SucceedingProbeCloses(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 1, Timeout: 20 * time.Millisecond})

	_ = b.Execute(func() error { return errBoom })

	require.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestTripAndReset_Idempotent(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 5, Timeout: time.Minute})

	var transitions atomic.Int32

	b.OnStateChange(func() { transitions.Add(1) })

	b.Trip()
	b.Trip()
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, int32(1), transitions.Load())

	b.Reset()
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, int32(2), transitions.Load())
}

func TestReset_DoesNotClearFailureCount(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 5, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errBoom })
	}

	b.Trip()
	b.Reset()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 3, b.FailureCount())
}

func TestReset_CancelsRecoveryTimer(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 1, Timeout: 30 * time.Millisecond})

	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	require.Equal(t, StateClosed, b.State())

	// A late timer fire must not clobber the reset state.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateClosed, b.State())
}

func TestServiceLevel(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 4, Timeout: time.Minute})

	expected := []float64{75, 50, 25, 0}

	assert.InDelta(t, 100.0, b.ServiceLevel(), 0.001)

	for i, want := range expected {
		_ = b.Execute(func() error { return errBoom })

		if i < len(expected)-1 {
			assert.InDelta(t, want, b.ServiceLevel(), 0.001)
		} else {
			// Final failure trips the breaker; level bottoms out at 0.
			assert.InDelta(t, 0.0, b.ServiceLevel(), 0.001)
			assert.Equal(t, StateOpen, b.State())
		}
	}
}

func TestSetThreshold_RejectsNonPositive(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 5, Timeout: time.Minute})

	for _, invalid := range []int{0, -1, -100} {
		err := b.SetThreshold(invalid)
		assert.ErrorIs(t, err, ErrInvalidThreshold)
		assert.Equal(t, 5, b.Threshold())
	}

	require.NoError(t, b.SetThreshold(7))
	assert.Equal(t, 7, b.Threshold())
}

func TestSetTimeout_AppliesOnNextArm(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 1, Timeout: time.Hour})

	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	// Shortening the timeout does not touch the already armed timer.
	b.SetTimeout(10 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateOpen, b.State())

	// Next arm picks up the new value.
	b.Reset()
	_ = b.Execute(func() error { return errBoom })

	assert.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)
}

func TestOnServiceLevelChange_FiresOnCounterChanges(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 5, Timeout: time.Minute})

	var changes atomic.Int32

	b.OnServiceLevelChange(func() { changes.Add(1) })

	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return nil })

	assert.Equal(t, int32(3), changes.Load())

	// No change when the count is already zero.
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return nil })
	assert.Equal(t, int32(3), changes.Load())
}

func TestNotifications_PanicInHandlerIsRecovered(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 1, Timeout: time.Minute})

	var called atomic.Bool

	b.OnStateChange(func() { panic("intentional panic in handler") })
	b.OnStateChange(func() { called.Store(true) })

	assert.NotPanics(t, func() {
		_ = b.Execute(func() error { return errBoom })
	})

	assert.Equal(t, StateOpen, b.State())
	assert.True(t, called.Load(), "handler after the panicking one should still run")
}

func TestOnStateChange_NilHandlerIgnored(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 1, Timeout: time.Minute})

	b.OnStateChange(nil)
	b.OnServiceLevelChange(nil)

	assert.NotPanics(t, func() {
		_ = b.Execute(func() error { return errBoom })
	})
}

func TestExecute_ConcurrentCallers(t *testing.T) {
	b := newTestBreaker(t, Config{Threshold: 1000, Timeout: time.Minute})

	var wg sync.WaitGroup

	// Equal numbers of failures and successes keep the count balanced; the
	// invariant under test is no lost updates and no out-of-bounds count.
	for i := 0; i < 100; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()

			_ = b.Execute(func() error { return errBoom })
		}()

		go func() {
			defer wg.Done()

			_ = b.Execute(func() error { return nil })
		}()
	}

	wg.Wait()

	count := b.FailureCount()
	assert.GreaterOrEqual(t, count, 0)
	assert.LessOrEqual(t, count, 200)
	assert.Equal(t, StateClosed, b.State())
}
