package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of a store circuit breaker
type BreakerState string

const (
	// BreakerClosed passes calls through
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects calls until the cool-down elapses
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets a limited number of probe calls through
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrBreakerOpen is returned while the breaker rejects calls
	ErrBreakerOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when half-open probe slots are exhausted
	ErrTooManyProbes = errors.New("too many half-open probes")
)

// BreakerConfig configures a CircuitBreaker
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures uint32
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// MaxHalfOpenRequests bounds concurrent probes
	MaxHalfOpenRequests uint32
}

// Validate checks the configuration
func (c BreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("Timeout must be greater than 0")
	}
	if c.MaxHalfOpenRequests == 0 {
		return errors.New("MaxHalfOpenRequests must be greater than 0")
	}
	return nil
}

// DefaultBreakerConfig returns the defaults used when none are configured
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker stops hammering an unavailable store. While open, calls fail
// immediately with ErrBreakerOpen instead of waiting for a network timeout.
type CircuitBreaker struct {
	config   BreakerConfig
	mu       sync.Mutex
	state    BreakerState
	failures uint32
	openedAt time.Time
	probes   uint32
	now      func() time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(config BreakerConfig) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker configuration: %w", err)
	}
	return &CircuitBreaker{config: config, state: BreakerClosed, now: time.Now}, nil
}

// Allow reports whether a call may proceed
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return ErrBreakerOpen
		}
		cb.state = BreakerHalfOpen
		cb.probes = 1
		return nil
	case BreakerHalfOpen:
		if cb.probes >= cb.config.MaxHalfOpenRequests {
			return ErrTooManyProbes
		}
		cb.probes++
	}
	return nil
}

// RecordSuccess closes the breaker and clears the failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probes = 0
}

// RecordFailure counts a failure and opens the breaker when the limit is reached
// or a half-open probe fails. It returns true when this call opened the breaker.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == BreakerHalfOpen || (cb.state == BreakerClosed && cb.failures >= cb.config.MaxFailures) {
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
		cb.probes = 0
		return true
	}
	return false
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
