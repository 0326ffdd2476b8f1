package recovery

import (
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	// Closed lets every call through.
	Closed State = iota

	// Open rejects calls until the cool-down passes.
	Open

	// HalfOpen lets a single probe through.
	HalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker counts consecutive failures and opens after threshold of them.
// A threshold of zero disables it.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	coolDown  time.Duration
	now       func() time.Time

	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, coolDown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		coolDown:  coolDown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. Once the cool-down has passed
// an open breaker admits exactly one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return false
		}
		b.state = HalfOpen
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Success records a successful call and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.threshold <= 0 {
		return
	}
	b.failures++
	if b.state == HalfOpen || b.failures >= b.threshold {
		b.state = Open
		b.openedAt = b.now()
		b.failures = 0
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.Success()
}
