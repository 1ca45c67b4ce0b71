package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tozevv/reliability-patterns/reliability/log"
)

// Manager manages circuit breakers for named resources.
type Manager interface {
	// GetOrCreate returns the existing breaker for the name or creates a new one.
	GetOrCreate(name string, cfg Config) (*Breaker, error)

	// Execute runs an operation through the named breaker.
	Execute(name string, op Operation) error

	// GetState returns the current state, or StateUnknown for unregistered names.
	GetState(name string) State

	// ServiceLevel returns the named breaker's service level percentage,
	// or 0 for unregistered names.
	ServiceLevel(name string) float64

	// IsHealthy returns true if the named breaker is closed.
	IsHealthy(name string) bool

	// Reset resets the named breaker to the closed state.
	Reset(name string)

	// RegisterStateChangeListener registers a listener for state changes of
	// every managed breaker.
	RegisterStateChangeListener(listener StateChangeListener)
}

// StateChangeListener is notified when a managed breaker changes state.
type StateChangeListener interface {
	// OnStateChange is called when a circuit breaker changes state.
	OnStateChange(name string, from State, to State)
}

type manager struct {
	breakers   map[string]*Breaker
	lastStates map[string]State
	listeners  []StateChangeListener
	mu         sync.RWMutex
	logger     log.Logger
}

// NewManager creates a new circuit breaker manager.
//
//nolint:ireturn
func NewManager(logger log.Logger) Manager {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	return &manager{
		breakers:   make(map[string]*Breaker),
		lastStates: make(map[string]State),
		listeners:  make([]StateChangeListener, 0),
		logger:     logger,
	}
}

func (m *manager) GetOrCreate(name string, cfg Config) (*Breaker, error) {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return breaker, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists = m.breakers[name]; exists {
		return breaker, nil
	}

	breaker, err := New(cfg, m.logger.WithFields("breaker", name))
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker for %s: %w", name, err)
	}

	breaker.OnStateChange(func() {
		m.handleStateChange(name, breaker.State())
	})

	m.breakers[name] = breaker
	m.lastStates[name] = StateClosed

	m.logger.Infof("Created circuit breaker for: %s", name)

	return breaker, nil
}

func (m *manager) Execute(name string, op Operation) error {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("circuit breaker not found for: %s (call GetOrCreate first)", name)
	}

	err := breaker.Execute(op)
	if errors.Is(err, ErrOpenCircuit) {
		m.logger.Warnf("Circuit breaker [%s] is OPEN - call rejected immediately", name)
	}

	return err
}

func (m *manager) GetState(name string) State {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if !exists {
		return StateUnknown
	}

	return breaker.State()
}

func (m *manager) ServiceLevel(name string) float64 {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if !exists {
		return 0
	}

	return breaker.ServiceLevel()
}

func (m *manager) IsHealthy(name string) bool {
	// Only the closed state is considered healthy; open and half-open both
	// need recovery before the resource is trusted again.
	return m.GetState(name) == StateClosed
}

func (m *manager) Reset(name string) {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if !exists {
		m.logger.Warnf("Cannot reset unknown circuit breaker: %s", name)

		return
	}

	m.logger.Infof("Resetting circuit breaker for: %s", name)
	breaker.Reset()
}

func (m *manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		m.logger.Warnf("Attempted to register a nil state change listener")

		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
	m.logger.Debugf("Registered state change listener (total: %d)", len(m.listeners))
}

// handleStateChange tracks the previous state per breaker and fans the
// transition out to registered listeners.
func (m *manager) handleStateChange(name string, to State) {
	m.mu.Lock()
	from := m.lastStates[name]
	m.lastStates[name] = to

	listeners := make([]StateChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	switch to {
	case StateOpen:
		m.logger.Errorf("Circuit breaker [%s] OPENED - calls will fast-fail", name)
	case StateHalfOpen:
		m.logger.Infof("Circuit breaker [%s] HALF-OPEN - testing recovery", name)
	case StateClosed:
		m.logger.Infof("Circuit breaker [%s] CLOSED - resource is healthy", name)
	}

	for _, listener := range listeners {
		// Notify in a goroutine so a slow listener cannot block breaker operations.
		go func(l StateChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Errorf("Circuit breaker state change listener panic for %s: %v", name, r)
				}
			}()

			l.OnStateChange(name, from, to)
		}(listener)
	}
}
