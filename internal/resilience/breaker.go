// Package resilience provides the failure-handling primitives adapters are
// built on: a per-provider circuit breaker and a bounded retry policy.
package resilience

import (
	"sync"
	"time"
)

// CircuitState is the breaker's position.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens
	// the circuit.
	DefaultFailureThreshold = 3
	// DefaultRecoveryTimeout is how long an open circuit waits before
	// admitting a trial call.
	DefaultRecoveryTimeout = 30 * time.Second
)

// Breaker is a three-state circuit breaker guarding one provider.
// All methods are safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	lastFailureTime  time.Time
	failureThreshold int
	recoveryTimeout  time.Duration
	probeInFlight    bool
	onTrip           func()

	now func() time.Time // overridable in tests
}

// NewBreaker creates a closed breaker. Non-positive parameters fall back
// to the defaults.
func NewBreaker(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// OnTrip registers a callback invoked each time the breaker transitions
// to open from closed. Used to count breaker trips in metrics.
func (b *Breaker) OnTrip(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = fn
}

// CanExecute reports whether a call may proceed. When the circuit is open
// and the recovery timeout has elapsed, it atomically transitions to
// half_open and admits exactly one trial call; concurrent callers are
// rejected until that trial resolves.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) > b.recoveryTimeout {
			b.state = StateHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	}
	return false
}

// Allows reports whether a call would currently be admitted, without
// moving the state machine or consuming the half_open probe slot. An
// open circuit past its recovery timeout counts as allowed; the actual
// open→half_open transition stays in CanExecute.
func (b *Breaker) Allows() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return b.now().Sub(b.lastFailureTime) > b.recoveryTimeout
	case StateHalfOpen:
		return !b.probeInFlight
	}
	return false
}

// RecordSuccess resets the failure count. A successful half_open trial
// closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.state = StateClosed
	b.probeInFlight = false
}

// RecordFailure increments the failure count and opens the circuit once
// the threshold is reached. A failed half_open trial reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
			if b.onTrip != nil {
				b.onTrip()
			}
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.probeInFlight = false
	}
}

// Reset returns the breaker to a pristine closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.probeInFlight = false
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the state, failure count, and last failure time in one
// consistent read. Used by the health endpoint.
func (b *Breaker) Snapshot() (CircuitState, int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failureCount, b.lastFailureTime
}
