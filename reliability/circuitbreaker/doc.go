// Package circuitbreaker implements the circuit breaker pattern: a guard
// that wraps a caller-supplied operation, counts its failures, and trips to
// a fast-rejecting open state once failures reach a threshold, probing for
// recovery after a cooldown.
//
// Use New for a standalone breaker around a single resource, or NewManager
// to manage named breakers across several resources. Optional health-check
// integration can reset breakers as soon as a resource recovers.
package circuitbreaker
