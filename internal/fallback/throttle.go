package fallback

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock provides the current time. Tests inject a manual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock backed by time.Now.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Throttle is a leading-edge rate gate: the first attempt runs, then
// attempts are refused until interval has passed since the last run and
// the previous run has finished.
type Throttle struct {
	interval time.Duration
	clock    Clock

	mu     sync.Mutex
	last   time.Time
	hasRun bool

	inFlight atomic.Bool

	ran       atomic.Uint64
	throttled atomic.Uint64
}

// NewThrottle creates a throttle. A nil clock means SystemClock.
func NewThrottle(interval time.Duration, clock Clock) *Throttle {
	if clock == nil {
		clock = SystemClock
	}
	return &Throttle{interval: interval, clock: clock}
}

// Try reports whether the caller may run now. When it may, the returned
// done must be called once the run finishes; callers defer it so a failed
// run cannot leave the gate closed.
func (t *Throttle) Try() (done func(), ok bool) {
	if t.inFlight.Load() {
		t.throttled.Add(1)
		return nil, false
	}

	t.mu.Lock()
	now := t.clock.Now()
	if t.hasRun && now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		t.throttled.Add(1)
		return nil, false
	}
	if !t.inFlight.CompareAndSwap(false, true) {
		t.mu.Unlock()
		t.throttled.Add(1)
		return nil, false
	}
	t.last = now
	t.hasRun = true
	t.mu.Unlock()

	t.ran.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { t.inFlight.Store(false) })
	}, true
}

// Interval returns the minimum time between runs.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// Counts returns how many attempts ran and how many were refused.
func (t *Throttle) Counts() (ran, throttled uint64) {
	return t.ran.Load(), t.throttled.Load()
}
