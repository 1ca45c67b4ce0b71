package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tozevv/reliability-patterns/reliability/log"
)

var (
	// ErrInvalidHealthCheckInterval indicates that the health check interval must be positive.
	ErrInvalidHealthCheckInterval = errors.New("circuitbreaker: health check interval must be positive")
	// ErrInvalidHealthCheckTimeout indicates that the health check timeout must be positive.
	ErrInvalidHealthCheckTimeout = errors.New("circuitbreaker: health check timeout must be positive")
	// ErrNilManager indicates that the health checker requires a manager.
	ErrNilManager = errors.New("circuitbreaker: manager must not be nil")
)

// HealthCheckFunc checks whether a protected resource has recovered.
type HealthCheckFunc func(ctx context.Context) error

// HealthChecker periodically probes unhealthy resources and resets their
// breakers once the resource recovers. It complements the breaker's own
// timer-driven half-open probing with out-of-band health checks, so
// recovery does not have to wait for live traffic.
type HealthChecker interface {
	// Register adds a resource to health check.
	Register(name string, check HealthCheckFunc)

	// Start begins the health check loop in a separate goroutine.
	Start()

	// Stop gracefully stops the health checker.
	Stop()

	// GetHealthStatus returns the current breaker state of all registered resources.
	GetHealthStatus() map[string]string

	// StateChangeListener lets the checker schedule an immediate probe when
	// a breaker opens.
	StateChangeListener
}

type healthChecker struct {
	manager        Manager
	checks         map[string]HealthCheckFunc
	interval       time.Duration
	checkTimeout   time.Duration
	logger         log.Logger
	stopChan       chan struct{}
	immediateCheck chan string
	wg             sync.WaitGroup
	mu             sync.RWMutex
}

// NewHealthChecker creates a health checker driving the given manager.
// interval is how often unhealthy resources are probed; checkTimeout bounds
// each individual probe. Both must be positive.
//
//nolint:ireturn
func NewHealthChecker(manager Manager, interval, checkTimeout time.Duration, logger log.Logger) (HealthChecker, error) {
	if manager == nil {
		return nil, ErrNilManager
	}

	if interval <= 0 {
		return nil, ErrInvalidHealthCheckInterval
	}

	if checkTimeout <= 0 {
		return nil, ErrInvalidHealthCheckTimeout
	}

	if logger == nil {
		logger = &log.NoneLogger{}
	}

	return &healthChecker{
		manager:        manager,
		checks:         make(map[string]HealthCheckFunc),
		interval:       interval,
		checkTimeout:   checkTimeout,
		logger:         logger,
		stopChan:       make(chan struct{}),
		immediateCheck: make(chan string, 10),
	}, nil
}

func (hc *healthChecker) Register(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.checks[name] = check
	hc.logger.Infof("Registered health check for: %s", name)
}

func (hc *healthChecker) Start() {
	hc.wg.Add(1)

	go hc.loop()

	hc.logger.Infof("Health checker started - probing unhealthy resources every %v", hc.interval)
}

func (hc *healthChecker) Stop() {
	close(hc.stopChan)
	hc.wg.Wait()
	hc.logger.Info("Health checker stopped")
}

func (hc *healthChecker) loop() {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.checkAll()
		case name := <-hc.immediateCheck:
			hc.checkOne(name)
		case <-hc.stopChan:
			return
		}
	}
}

func (hc *healthChecker) checkAll() {
	hc.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	for name, check := range checks {
		if hc.manager.IsHealthy(name) {
			continue
		}

		hc.probe(name, check)
	}
}

func (hc *healthChecker) checkOne(name string) {
	hc.mu.RLock()
	check, exists := hc.checks[name]
	hc.mu.RUnlock()

	if !exists {
		hc.logger.Warnf("No health check registered for: %s", name)

		return
	}

	if hc.manager.IsHealthy(name) {
		return
	}

	hc.probe(name, check)
}

// probe runs one health check and resets the breaker when it passes.
func (hc *healthChecker) probe(name string, check HealthCheckFunc) {
	hc.logger.Infof("Attempting to heal: %s (circuit breaker is not closed)", name)

	ctx, cancel := context.WithTimeout(context.Background(), hc.checkTimeout)
	err := check(ctx)

	cancel()

	if err != nil {
		hc.logger.Warnf("Resource %s still unhealthy: %v - will retry in %v", name, err, hc.interval)

		return
	}

	hc.logger.Infof("Resource %s recovered - resetting circuit breaker", name)
	hc.manager.Reset(name)
}

func (hc *healthChecker) GetHealthStatus() map[string]string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	status := make(map[string]string, len(hc.checks))

	for name := range hc.checks {
		status[name] = string(hc.manager.GetState(name))
	}

	return status
}

// OnStateChange implements StateChangeListener. When a breaker opens, an
// immediate probe is scheduled instead of waiting for the next tick.
func (hc *healthChecker) OnStateChange(name string, from State, to State) {
	if to != StateOpen {
		return
	}

	select {
	case hc.immediateCheck <- name:
		hc.logger.Debugf("Immediate health check scheduled for: %s", name)
	default:
		hc.logger.Warnf("Immediate health check channel full for %s, will check on next interval", name)
	}
}
