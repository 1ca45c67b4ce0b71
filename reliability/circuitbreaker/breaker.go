package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/tozevv/reliability-patterns/reliability/log"
	"github.com/tozevv/reliability-patterns/reliability/safe"
)

// State represents the circuit breaker state.
type State string

const (
	// StateClosed allows operations through; failures are being counted.
	StateClosed State = "closed"
	// StateOpen rejects every operation immediately.
	StateOpen State = "open"
	// StateHalfOpen lets the next operation through as a recovery probe.
	StateHalfOpen State = "half-open"
	// StateUnknown is reported by the Manager for unregistered breakers.
	StateUnknown State = "unknown"
)

// Operation is the unit of work protected by a breaker. A non-nil error
// signals failure; the breaker does not interpret what the operation does.
type Operation func() error

// Breaker guards a single protected resource. It counts failures, trips to
// the open state once they reach the threshold, and probes for recovery
// after the configured timeout.
//
// All methods are safe for concurrent use. The (state, failureCount, timer)
// tuple is guarded as one consistency unit; status readouts are advisory
// snapshots, not transactionally tied to a subsequent Execute.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failureCount int
	threshold    int
	timeout      time.Duration

	// Single-shot recovery timer. The generation counter invalidates a timer
	// that fires after the breaker was already reset or re-tripped.
	timer      *time.Timer
	generation uint64

	stateHandlers []func()
	levelHandlers []func()

	logger log.Logger
}

// New creates a breaker from the given configuration. Zero-valued Config
// fields take the documented defaults (5 failures, 60s cooldown). A nil
// logger is replaced with a no-op logger.
func New(cfg Config, logger log.Logger) (*Breaker, error) {
	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = &log.NoneLogger{}
	}

	return &Breaker{
		state:     StateClosed,
		threshold: cfg.Threshold,
		timeout:   cfg.Timeout,
		logger:    logger,
	}, nil
}

// Execute runs the operation through the breaker.
//
// While the breaker is open it returns ErrOpenCircuit without invoking the
// operation. Otherwise the operation runs exactly once, synchronously, on
// the caller's goroutine; a failure is re-raised as an *OperationError
// wrapping the original cause, and feeds the breaker's bookkeeping.
func (b *Breaker) Execute(op Operation) error {
	if op == nil {
		return ErrNilOperation
	}

	b.mu.Lock()
	if b.state == StateOpen {
		b.mu.Unlock()

		return ErrOpenCircuit
	}
	b.mu.Unlock()

	if err := op(); err != nil {
		b.recordFailure()

		return &OperationError{cause: err}
	}

	b.recordSuccess()

	return nil
}

// recordFailure applies the failure bookkeeping: a failed half-open probe
// re-trips immediately; otherwise the bounded failure count grows and the
// breaker trips once it reaches the threshold.
func (b *Breaker) recordFailure() {
	b.mu.Lock()

	stateChanged := false
	levelChanged := false

	if b.state == StateHalfOpen {
		b.logger.Warnf("Circuit breaker probe failed - reopening")

		stateChanged = b.tripLocked()
	} else {
		if b.failureCount < b.threshold {
			b.failureCount++
			levelChanged = true
		}

		if b.failureCount >= b.threshold {
			stateChanged = b.tripLocked()
		}
	}

	b.mu.Unlock()

	if levelChanged {
		b.notifyServiceLevelChanged()
	}

	if stateChanged {
		b.notifyStateChanged()
	}
}

// recordSuccess applies the success bookkeeping: a successful half-open
// probe closes the breaker; the failure count heals one step at a time.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()

	stateChanged := false
	levelChanged := false

	if b.state == StateHalfOpen {
		b.logger.Infof("Circuit breaker probe succeeded - closing")

		stateChanged = b.resetLocked()
	}

	if b.failureCount > 0 {
		b.failureCount--
		levelChanged = true
	}

	b.mu.Unlock()

	if levelChanged {
		b.notifyServiceLevelChanged()
	}

	if stateChanged {
		b.notifyStateChanged()
	}
}

// Trip transitions the breaker to the open state and arms the recovery
// timer. Calling Trip on an already open breaker is a no-op.
func (b *Breaker) Trip() {
	b.mu.Lock()
	changed := b.tripLocked()
	b.mu.Unlock()

	if changed {
		b.notifyStateChanged()
	}
}

// Reset transitions the breaker to the closed state and disarms the
// recovery timer. Calling Reset on an already closed breaker is a no-op.
// Reset does not clear the failure count; only successful executions do.
func (b *Breaker) Reset() {
	b.mu.Lock()
	changed := b.resetLocked()
	b.mu.Unlock()

	if changed {
		b.notifyStateChanged()
	}
}

// tripLocked moves to open and (re)arms the timer. Caller holds b.mu.
func (b *Breaker) tripLocked() bool {
	if b.state == StateOpen {
		return false
	}

	b.state = StateOpen
	b.armTimerLocked()

	b.logger.Warnf("Circuit breaker OPENED - rejecting calls for %v", b.timeout)

	return true
}

// resetLocked moves to closed and disarms the timer. Caller holds b.mu.
func (b *Breaker) resetLocked() bool {
	if b.state == StateClosed {
		return false
	}

	b.state = StateClosed
	b.disarmTimerLocked()

	b.logger.Infof("Circuit breaker CLOSED")

	return true
}

// armTimerLocked starts a fresh single-shot recovery timer. Any previously
// armed timer is invalidated via the generation counter, so the timer can
// never fire twice for one open period.
func (b *Breaker) armTimerLocked() {
	b.generation++
	generation := b.generation

	if b.timer != nil {
		b.timer.Stop()
	}

	b.timer = time.AfterFunc(b.timeout, func() {
		b.onRecoveryTimeout(generation)
	})
}

// disarmTimerLocked cancels the pending recovery timer, if any.
func (b *Breaker) disarmTimerLocked() {
	b.generation++

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// onRecoveryTimeout is the timer callback: open -> half-open. A stale timer
// (state no longer open, or superseded generation) is discarded, since a
// late fire must not clobber a state the caller already changed.
func (b *Breaker) onRecoveryTimeout(generation uint64) {
	b.mu.Lock()

	if b.state != StateOpen || generation != b.generation {
		b.mu.Unlock()

		return
	}

	b.state = StateHalfOpen
	b.timer = nil
	b.generation++

	b.mu.Unlock()

	b.logger.Infof("Circuit breaker HALF-OPEN - probing for recovery")

	b.notifyStateChanged()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// FailureCount returns the current failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.failureCount
}

// Threshold returns the failure threshold.
func (b *Breaker) Threshold() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.threshold
}

// Timeout returns the open-state cooldown duration.
func (b *Breaker) Timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.timeout
}

// ServiceLevel returns the current health of the protected resource as a
// percentage: ((threshold - failureCount) / threshold) * 100. It is 100
// with no recorded failures and 0 once the failure count reaches the
// threshold.
func (b *Breaker) ServiceLevel() float64 {
	b.mu.Lock()
	remaining := int64(b.threshold - b.failureCount)
	threshold := int64(b.threshold)
	b.mu.Unlock()

	return safe.Percentage(decimal.NewFromInt(remaining), decimal.NewFromInt(threshold)).InexactFloat64()
}

// AllowedToAttemptExecute reports whether Execute would currently attempt
// the operation: true while closed or half-open, false while open. It is a
// cheap advisory check; Execute independently enforces the open-state
// rejection.
func (b *Breaker) AllowedToAttemptExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state == StateClosed || b.state == StateHalfOpen
}

// SetThreshold changes the failure threshold. Values below 1 are rejected
// with ErrInvalidThreshold and leave the prior threshold unchanged.
func (b *Breaker) SetThreshold(threshold int) error {
	if err := validation.Validate(threshold, validation.Required, validation.Min(1)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, err)
	}

	b.mu.Lock()
	b.threshold = threshold
	b.mu.Unlock()

	return nil
}

// SetTimeout changes the open-state cooldown. The new value takes effect
// the next time the recovery timer is armed; an already running timer keeps
// its original deadline.
func (b *Breaker) SetTimeout(timeout time.Duration) {
	b.mu.Lock()
	b.timeout = timeout
	b.mu.Unlock()
}

// OnStateChange registers a handler invoked synchronously after every state
// transition. The notification carries no payload; handlers re-read the
// breaker's status. Nil handlers are ignored.
func (b *Breaker) OnStateChange(handler func()) {
	if handler == nil {
		b.logger.Warnf("Attempted to register a nil state change handler")

		return
	}

	b.mu.Lock()
	b.stateHandlers = append(b.stateHandlers, handler)
	b.mu.Unlock()
}

// OnServiceLevelChange registers a handler invoked synchronously after
// every failure count change. Nil handlers are ignored.
func (b *Breaker) OnServiceLevelChange(handler func()) {
	if handler == nil {
		b.logger.Warnf("Attempted to register a nil service level change handler")

		return
	}

	b.mu.Lock()
	b.levelHandlers = append(b.levelHandlers, handler)
	b.mu.Unlock()
}

func (b *Breaker) notifyStateChanged() {
	b.notify(b.snapshotHandlers(&b.stateHandlers), "state change")
}

func (b *Breaker) notifyServiceLevelChanged() {
	b.notify(b.snapshotHandlers(&b.levelHandlers), "service level change")
}

func (b *Breaker) snapshotHandlers(handlers *[]func()) []func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make([]func(), len(*handlers))
	copy(snapshot, *handlers)

	return snapshot
}

// notify invokes handlers synchronously, after the mutation that caused the
// notification has committed. A panicking handler is recovered so it cannot
// break the breaker's bookkeeping or starve other handlers.
func (b *Breaker) notify(handlers []func(), kind string) {
	for _, handler := range handlers {
		b.invoke(handler, kind)
	}
}

func (b *Breaker) invoke(handler func(), kind string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("Circuit breaker %s handler panic: %v", kind, r)
		}
	}()

	handler()
}
