package observability

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerStateValue represents the state of a circuit breaker.
type CircuitBreakerStateValue int

const (
	// StateClosed lets every call through.
	StateClosed CircuitBreakerStateValue = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets one probe through.
	StateHalfOpen
)

func (s CircuitBreakerStateValue) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast after consecutive upstream failures. It never
// retries; it only refuses to start calls while the upstream looks down.
// The lock is not held while the guarded call runs.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu          sync.Mutex
	state       CircuitBreakerStateValue
	failures    int
	openedAt    time.Time
	probeActive bool
}

// NewCircuitBreaker creates a breaker that opens after maxFailures consecutive failures.
func NewCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{name: name, maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may start. In half-open state only one probe
// is admitted until its outcome is recorded.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		cb.setState(StateHalfOpen)
		cb.probeActive = false
	}
	switch cb.state {
	case StateOpen:
		return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
	case StateHalfOpen:
		if cb.probeActive {
			return fmt.Errorf("%w: %s probing", ErrCircuitOpen, cb.name)
		}
		cb.probeActive = true
	}
	return nil
}

// Record feeds the outcome of an admitted call back into the breaker.
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if success {
		cb.failures = 0
		cb.probeActive = false
		cb.setState(StateClosed)
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.openedAt = cb.now()
		cb.probeActive = false
		cb.setState(StateOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerStateValue {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probeActive = false
	cb.setState(StateClosed)
}

func (cb *CircuitBreaker) setState(s CircuitBreakerStateValue) {
	cb.state = s
	RecordCircuitBreakerStatus(cb.name, s)
}
