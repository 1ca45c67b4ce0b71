// Package retry wraps circuit breaker executions in a bounded retry loop
// with a fixed interval between attempts.
package retry
