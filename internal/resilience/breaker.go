package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BreakerState is the circuit breaker state
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker isolates callers from a persistently failing provider.
// Closed passes calls through; open fails them fast; half-open admits
// exactly one probe whose outcome decides the next state. State is
// local to one breaker instance and per-process best effort when
// multiple processes front the same provider.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	resetTimeout     time.Duration

	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed. While open it returns
// ErrCircuitOpen until resetTimeout has elapsed, then transitions to
// half-open and admits a single probe; concurrent calls during the
// probe are rejected.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		log.Info().Str("breaker", cb.name).Msg("Circuit breaker half-open, allowing probe")
		return nil
	default: // StateHalfOpen
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	}
}

// Success records a successful call, closing the breaker and resetting
// the failure count
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		log.Info().Str("breaker", cb.name).Msg("Circuit breaker closed")
	}
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.probing = false
}

// Release abandons an in-flight call without a verdict, freeing the
// half-open probe slot so a later call can probe again. A caller
// cancelling mid-probe says nothing about the provider's health.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
}

// Failure records a failed call. A failed half-open probe reopens the
// breaker and restarts the reset timeout; in closed state the breaker
// opens once consecutive failures reach the threshold.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++

	if cb.state == StateHalfOpen {
		cb.trip()
		return
	}

	if cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		cb.trip()
	}
}

// trip opens the breaker; callers must hold cb.mu
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.probing = false
	log.Warn().
		Str("breaker", cb.name).
		Int("consecutive_failures", cb.consecutiveFailures).
		Msg("Circuit breaker opened")
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
