package circuitbreaker

import "errors"

var (
	// ErrOpenCircuit is returned by Execute while the breaker is open. The
	// operation was never invoked; callers should not retry this instant.
	ErrOpenCircuit = errors.New("circuitbreaker: circuit is open")

	// ErrOperationFailed is the sentinel matched by errors.Is for failures of
	// the wrapped operation itself, as opposed to fast rejections.
	ErrOperationFailed = errors.New("circuitbreaker: operation failed")

	// ErrInvalidThreshold indicates a threshold that is zero or negative.
	ErrInvalidThreshold = errors.New("circuitbreaker: threshold must be positive")

	// ErrNilOperation indicates that Execute was called with a nil operation.
	ErrNilOperation = errors.New("circuitbreaker: operation must not be nil")
)

// OperationError reports that the wrapped operation failed while the breaker
// allowed the attempt. It always carries the original cause so callers can
// distinguish genuine operation failures from breaker-induced rejections.
type OperationError struct {
	cause error
}

// Error returns the formatted failure message.
func (e *OperationError) Error() string {
	if e == nil || e.cause == nil {
		return ErrOperationFailed.Error()
	}

	return ErrOperationFailed.Error() + ": " + e.cause.Error()
}

// Unwrap returns the original operation error.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

// Is matches the ErrOperationFailed sentinel.
func (e *OperationError) Is(target error) bool {
	return target == ErrOperationFailed
}
