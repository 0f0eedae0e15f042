package llm

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is wrapped by every rejection from Allow.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState represents the current state of the circuit breaker.
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
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long the circuit stays open before a probe request is allowed.
	ResetAfter time.Duration
	// OnStateChange, if set, is called after every transition, outside the lock.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig trips after 5 failures and probes after 30 seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker is shared by every provider built from one factory, so an
// outage seen by one project's request short-circuits the others.
type CircuitBreaker struct {
	mu               sync.RWMutex
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
	onStateChange    func(from, to CircuitState)
	now              func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:     config.Threshold,
		resetAfter:    config.ResetAfter,
		state:         CircuitClosed,
		onStateChange: config.OnStateChange,
		now:           time.Now,
	}
}

// setState must be called with mu held. The returned func fires the hook and
// must be called after mu is released.
func (cb *CircuitBreaker) setState(to CircuitState) func() {
	from := cb.state
	cb.state = to
	if from == to || cb.onStateChange == nil {
		return func() {}
	}
	hook := cb.onStateChange
	return func() { hook(from, to) }
}

// Allow reports whether a request may proceed. An open circuit becomes
// half-open once ResetAfter has elapsed and lets a single probe through.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	notify := func() {}
	defer func() {
		cb.mu.Unlock()
		notify()
	}()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		since := cb.now().Sub(cb.lastFailure)
		if since > cb.resetAfter {
			notify = cb.setState(CircuitHalfOpen)
			return true, nil
		}
		return false, fmt.Errorf("%w: assistant provider failed %d times, last failure %v ago",
			ErrCircuitOpen, cb.consecutiveFails, since.Round(time.Second))
	case CircuitHalfOpen:
		return false, fmt.Errorf("%w: probing assistant provider", ErrCircuitOpen)
	default:
		return false, fmt.Errorf("circuit breaker in unknown state: %v", cb.state)
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.consecutiveFails = 0
	notify := cb.setState(CircuitClosed)
	cb.mu.Unlock()
	notify()
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	notify := func() {}
	if cb.state == CircuitHalfOpen || cb.consecutiveFails >= cb.threshold {
		notify = cb.setState(CircuitOpen)
	}
	cb.mu.Unlock()
	notify()
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveFails
}
