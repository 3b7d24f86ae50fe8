package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Requests flow normally
	StateOpen                         // Requests fail fast
	StateHalfOpen                     // A few trials test recovery
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is notified after every state transition and every failure.
// It runs with the breaker locked and must not call back into it.
type StateChangeFunc func(name string, state CircuitState, failed bool)

// BreakerConfig configures a CircuitBreaker
type BreakerConfig struct {
	Name           string
	MaxFailures    int           // Consecutive failures that open the circuit
	ResetTimeout   time.Duration // Time open before admitting trials
	HalfOpenTrials int           // Trials admitted, and successes needed to close
	Now            func() time.Time
}

// CircuitBreaker fails calls fast after repeated failures of a dependency
type CircuitBreaker struct {
	config   BreakerConfig
	onChange StateChangeFunc

	mu        sync.Mutex
	state     CircuitState
	failures  int
	openedAt  time.Time
	trials    int
	successes int
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 1
	}
	if config.HalfOpenTrials <= 0 {
		config.HalfOpenTrials = 3
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// OnStateChange registers a hook, typically used to export metrics
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// Call runs fn unless the circuit is open, and records its outcome
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.record(err == nil)
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.config.Now().Sub(cb.openedAt) < cb.config.ResetTimeout {
			return false
		}
		cb.trials, cb.successes = 1, 0
		cb.transition(StateHalfOpen, false)
		return true
	default:
		if cb.trials >= cb.config.HalfOpenTrials {
			return false
		}
		cb.trials++
		return true
	}
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.HalfOpenTrials {
				cb.failures, cb.trials, cb.successes = 0, 0, 0
				cb.transition(StateClosed, false)
			}
		}
		return
	}

	cb.failures++
	// a failed trial reopens immediately
	if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
		cb.openedAt = cb.config.Now()
		cb.trials, cb.successes = 0, 0
		cb.transition(StateOpen, true)
		return
	}
	if cb.onChange != nil {
		cb.onChange(cb.config.Name, cb.state, true)
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(state CircuitState, failed bool) {
	cb.state = state
	if cb.onChange != nil {
		cb.onChange(cb.config.Name, state, failed)
	}
}
