package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/tozevv/reliability-patterns/reliability/backoff"
	"github.com/tozevv/reliability-patterns/reliability/circuitbreaker"
)

var (
	// ErrGaveUpWaiting is the terminal cause when every attempt was rejected by
	// an open circuit, so no operation failure was ever recorded.
	ErrGaveUpWaiting = errors.New("retry: gave up waiting for the circuit to close")

	// ErrNilBreaker indicates that the wrapper requires a breaker.
	ErrNilBreaker = errors.New("retry: breaker must not be nil")
)

// Breaker is the subset of the circuit breaker contract the retry wrapper
// needs. *circuitbreaker.Breaker satisfies it.
type Breaker interface {
	AllowedToAttemptExecute() bool
	Execute(op circuitbreaker.Operation) error
}

// ExhaustedError reports that the attempt budget was spent without a
// success. It wraps the last recorded operation failure, or ErrGaveUpWaiting
// when every attempt was blocked by an open circuit.
type ExhaustedError struct {
	Attempts int
	cause    error
}

// Error returns the formatted failure message.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts exhausted: %v", e.Attempts, e.cause)
}

// Unwrap returns the last recorded cause.
func (e *ExhaustedError) Unwrap() error {
	return e.cause
}

// ExecuteWithRetries runs the operation through the breaker until it
// succeeds or the attempt budget is spent.
//
// An attempt the breaker refuses to allow still consumes budget, but records
// no cause; the wrapper sleeps retryInterval and tries again. An attempt
// that fails records the operation's own error as the latest cause. When the
// budget runs out the wrapper returns an *ExhaustedError wrapping the last
// cause, never nil.
//
// The sleep between attempts respects ctx; cancellation aborts the wait and
// returns the context error. allowedRetries must be at least 1.
func ExecuteWithRetries(ctx context.Context, breaker Breaker, op circuitbreaker.Operation, allowedRetries int, retryInterval time.Duration) error {
	if breaker == nil {
		return ErrNilBreaker
	}

	if err := validation.Validate(allowedRetries, validation.Required, validation.Min(1)); err != nil {
		return fmt.Errorf("retry: invalid allowedRetries %d: %w", allowedRetries, err)
	}

	var cause error

	for attempt := 0; attempt < allowedRetries; attempt++ {
		if attempt > 0 {
			if err := backoff.SleepWithContext(ctx, retryInterval); err != nil {
				return err
			}
		}

		if !breaker.AllowedToAttemptExecute() {
			continue
		}

		err := breaker.Execute(op)
		if err == nil {
			return nil
		}

		// A rejection that raced past the advisory check is still a blocked
		// attempt: budget spent, no cause recorded.
		if errors.Is(err, circuitbreaker.ErrOpenCircuit) {
			continue
		}

		var opErr *circuitbreaker.OperationError
		if errors.As(err, &opErr) {
			cause = opErr.Unwrap()
		} else {
			cause = err
		}
	}

	if cause == nil {
		cause = ErrGaveUpWaiting
	}

	return &ExhaustedError{Attempts: allowedRetries, cause: cause}
}
