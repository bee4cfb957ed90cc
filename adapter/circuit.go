package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fenwick-labs/agentengine/errs"
)

// CircuitState is one of the three circuit breaker states (spec
// §4.9).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// ErrCircuitOpen is returned by Execute while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker. Zero values take
// the spec §4.9 defaults: open after 5 consecutive failures, stay
// open for 30s, allow exactly one probe while half-open.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	OpenDuration     time.Duration
	OnStateChange    func(from, to CircuitState)
}

// CircuitBreaker implements the closed→open→half-open→closed state
// machine. Unlike a threshold-of-successes half-open policy, this
// breaker allows exactly one in-flight probe while half-open: a
// second caller arriving before the probe resolves is rejected with
// ErrCircuitOpen rather than being let through concurrently.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failures        int
	lastStateChange time.Time
	probeInFlight   bool
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = 30 * time.Second
	}
	return &CircuitBreaker{
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// State returns the current state, transitioning open→half-open first
// if the open duration has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeExpireOpen()
	return cb.state
}

// admit decides whether a call may proceed, claiming the single
// half-open probe slot if this call is the one granted it.
func (cb *CircuitBreaker) admit() (admitted bool, isProbe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeExpireOpen()

	switch cb.state {
	case CircuitClosed:
		return true, false
	case CircuitOpen:
		return false, false
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false, false
		}
		cb.probeInFlight = true
		return true, true
	default:
		return true, false
	}
}

func (cb *CircuitBreaker) maybeExpireOpen() {
	if cb.state == CircuitOpen && time.Since(cb.lastStateChange) >= cb.config.OpenDuration {
		cb.transitionTo(CircuitHalfOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(next CircuitState) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next
	cb.lastStateChange = time.Now()
	if next != CircuitHalfOpen {
		cb.probeInFlight = false
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(prev, next)
	}
}

func (cb *CircuitBreaker) recordResult(isProbe bool, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if isProbe {
		cb.probeInFlight = false
	}

	if failed {
		cb.failures++
		switch cb.state {
		case CircuitHalfOpen:
			cb.transitionTo(CircuitOpen)
		case CircuitClosed:
			if cb.failures >= cb.config.FailureThreshold {
				cb.transitionTo(CircuitOpen)
			}
		}
		return
	}

	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.transitionTo(CircuitClosed)
	}
}

// Execute runs fn under circuit breaker protection. While open it
// returns ErrCircuitOpen without calling fn at all. While half-open,
// exactly one caller is admitted as the probe; concurrent callers are
// rejected until the probe resolves.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	admitted, isProbe := cb.admit()
	if !admitted {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.recordResult(isProbe, err != nil)
	return err
}

// RunWithBreaker runs fn under circuit breaker protection, returning
// the result value alongside the error.
func RunWithBreaker[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	admitted, isProbe := cb.admit()
	if !admitted {
		return zero, ErrCircuitOpen
	}
	result, err := fn(ctx)
	cb.recordResult(isProbe, err != nil)
	return result, err
}

// CircuitOpenError builds the {error.code: CIRCUIT_OPEN, recoverable:
// true} result the spec requires while the breaker is open.
func CircuitOpenError() *errs.EngineError {
	return errs.New(errs.CodeAdapterCircuitOpen, "the action backend is temporarily unavailable", ErrCircuitOpen)
}
