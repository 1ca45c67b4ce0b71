// Package reliability is the root of a small resilience library built
// around the circuit breaker pattern.
//
// The circuitbreaker package provides the breaker state machine, a named
// breaker manager, and health-check-driven recovery. The retry package
// wraps breaker executions in a bounded retry loop, with delay strategies
// from the backoff package.
package reliability
