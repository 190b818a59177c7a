package errors

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures int `yaml:"consecutive_failures"`

	// CooldownDuration is the time before a single probe is allowed.
	CooldownDuration time.Duration `yaml:"cooldown_duration"`
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		ConsecutiveFailures: 3,
		CooldownDuration:    30 * time.Second,
	}
}

// CircuitBreaker stops calls to a resource after repeated failures and lets a
// probe through once the cooldown has passed.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           CircuitState
	failures        int
	lastStateChange time.Time
	config          CircuitBreakerConfig
	now             func() time.Time
}

func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.ConsecutiveFailures <= 0 {
		config.ConsecutiveFailures = 1
	}
	return &CircuitBreaker{
		state:           CircuitClosed,
		config:          config,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// RecordResult tracks the outcome of an allowed call.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.failures = 0
		if cb.state != CircuitClosed {
			cb.transitionTo(CircuitClosed)
		}
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.config.ConsecutiveFailures {
		cb.transitionTo(CircuitOpen)
	}
}

// Allow reports whether a call should proceed. After the cooldown exactly one
// probe is let through until its result is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.config.CooldownDuration {
			return false
		}
		cb.transitionTo(CircuitHalfOpen)
		return true
	case CircuitHalfOpen:
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	cb.state = state
	cb.lastStateChange = cb.now()
	if state == CircuitClosed {
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
