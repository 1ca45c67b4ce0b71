package circuitbreaker

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Default configuration values applied by New when the corresponding Config
// field is left at its zero value.
const (
	DefaultThreshold = 5
	DefaultTimeout   = 60 * time.Second
)

// Config holds circuit breaker configuration.
type Config struct {
	// Threshold is the number of accumulated failures that trips the breaker.
	Threshold int

	// Timeout is how long the breaker stays open before probing for recovery.
	Timeout time.Duration
}

// Validate checks the configuration. Threshold must be positive and Timeout
// must not be negative.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Threshold, validation.Required, validation.Min(1)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return fmt.Errorf("circuitbreaker: invalid config: %w", err)
	}

	return nil
}

// withDefaults fills zero-valued fields with the documented defaults.
func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}

	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}

	return c
}

// DefaultConfig provides the documented defaults: 5 failures, 60s cooldown.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Timeout:   DefaultTimeout,
	}
}

// AggressiveConfig for dependencies requiring fast failure detection.
func AggressiveConfig() Config {
	return Config{
		Threshold: 3,
		Timeout:   10 * time.Second,
	}
}

// ConservativeConfig for dependencies that should tolerate more failures
// before the breaker trips.
func ConservativeConfig() Config {
	return Config{
		Threshold: 15,
		Timeout:   2 * time.Minute,
	}
}
