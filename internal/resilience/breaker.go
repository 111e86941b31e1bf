package resilience

import (
	"sync/atomic"
	"time"
)

// State is the position of a circuit breaker.
type State int32

// Breaker states
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name used in diagnostics.
func (s State) String() string {
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

// Breaker is a lock-free circuit breaker for one dependency.
//
// All fields are accessed atomically so that many workers can consult the
// same breaker without serializing on a mutex. The open -> half_open edge is
// a compare-and-swap, which is what admits exactly one trial call after the
// cooldown.
type Breaker struct {
	threshold int32
	cooldown  time.Duration
	now       func() time.Time

	state    atomic.Int32
	failures atomic.Int32
	openedAt atomic.Int64 // unix nanos
}

// NewBreaker creates a closed breaker that opens after threshold consecutive
// failures and allows a trial call once cooldown has elapsed.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		threshold: int32(threshold),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	return int(b.failures.Load())
}

// OpenedAt returns when the breaker last opened, or the zero time.
func (b *Breaker) OpenedAt() time.Time {
	n := b.openedAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen when
// the breaker is open and cooling down, or when another caller already holds
// the half-open trial.
func (b *Breaker) Allow() error {
	switch State(b.state.Load()) {
	case StateClosed:
		return nil
	case StateOpen:
		opened := time.Unix(0, b.openedAt.Load())
		if b.now().Sub(opened) < b.cooldown {
			return ErrCircuitOpen
		}
		if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// Success records a call that reached the dependency and got an answer.
func (b *Breaker) Success() {
	b.failures.Store(0)
	b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed))
}

// Failure records a call that the dependency failed to serve.
func (b *Breaker) Failure() {
	if b.state.Load() == int32(StateHalfOpen) {
		b.openedAt.Store(b.now().UnixNano())
		b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen))
		return
	}
	if b.failures.Add(1) >= b.threshold {
		// openedAt is written before the state flips so no caller can see
		// an open breaker with a stale timestamp.
		opened := b.now().UnixNano()
		if b.state.Load() == int32(StateClosed) {
			b.openedAt.Store(opened)
			b.state.CompareAndSwap(int32(StateClosed), int32(StateOpen))
		}
	}
}

// Record classifies the outcome of a call: transient failures count against
// the breaker, anything else means the dependency responded.
func (b *Breaker) Record(err error) {
	if err != nil && IsTransient(err) {
		b.Failure()
		return
	}
	b.Success()
}
