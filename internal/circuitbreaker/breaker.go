package circuitbreaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Letting one probe request through
)

type CircuitBreaker struct {
	mutex            sync.Mutex
	state            State
	failures         int
	lastFailure      time.Time
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
	probing          bool
}

func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return newCircuitBreaker(threshold, timeout, time.Now)
}

func newCircuitBreaker(threshold int, timeout time.Duration, now func() time.Time) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     timeout,
		now:              now,
	}
}

// Allow reports whether a request may be sent upstream. Once the reset
// timeout has passed an open breaker admits a single trial request.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
			cb.state = StateHalfOpen
			cb.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

// RetryAfter returns how long an open breaker keeps rejecting requests.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.resetTimeout - cb.now().Sub(cb.lastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()
	cb.probing = false

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
	}

	if cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0
	cb.probing = false
	cb.state = StateClosed
}

// Release gives back a trial slot without judging the backend, for requests
// that ended without an upstream verdict.
func (cb *CircuitBreaker) Release() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.probing = false
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
