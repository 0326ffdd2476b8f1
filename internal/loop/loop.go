// Package loop provides the single-threaded cooperative scheduler that owns
// every host editor mutation.
//
// Work arrives from other goroutines through Post (run on the next tick,
// in order) and Defer (run on the next frame, after every task queued
// before it). Only the goroutine executing Run, or a caller of RunPending,
// executes tasks, so task bodies never race each other.
package loop

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dshills/nvimbridge/internal/logging"
)

// ErrClosed is returned when work is submitted to a closed loop.
var ErrClosed = errors.New("loop closed")

// ErrAlreadyRunning is returned by Run when the loop is already running.
var ErrAlreadyRunning = errors.New("loop already running")

// Scheduler accepts work for the loop. Loop implements it.
type Scheduler interface {
	Post(fn func())
	Defer(fn func())
}

// Loop is a cooperative task loop.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	frames []func()
	closed bool

	wake chan struct{}
	done chan struct{}

	running atomic.Bool

	executed atomic.Uint64
	panicked atomic.Uint64

	logger *logging.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report task panics.
func WithLogger(l *logging.Logger) Option {
	return func(lp *Loop) {
		lp.logger = l
	}
}

// New creates an idle loop. Call Run to start executing tasks.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post queues fn for the next tick. Tasks posted from one goroutine run in
// the order they were posted. Posting to a closed loop drops fn.
func (l *Loop) Post(fn func()) {
	l.enqueue(fn, false)
}

// Defer queues fn for the next frame. A frame runs once the tick queue is
// empty, so fn observes the effects of every task posted before it.
func (l *Loop) Defer(fn func()) {
	l.enqueue(fn, true)
}

func (l *Loop) enqueue(fn func(), frame bool) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("task dropped: loop closed")
		return
	}
	if frame {
		l.frames = append(l.frames, fn)
	} else {
		l.tasks = append(l.tasks, fn)
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes tasks until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	for {
		l.RunPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// RunPending drains the loop on the calling goroutine and returns the
// number of tasks executed. Tasks posted while draining also run; frames
// deferred while a frame runs wait for the next frame in the same drain.
// It must not be called concurrently with Run.
func (l *Loop) RunPending() int {
	n := 0
	for {
		if task, ok := l.nextTask(); ok {
			l.execute(task)
			n++
			continue
		}

		frames := l.takeFrames()
		if len(frames) == 0 {
			return n
		}
		for _, fn := range frames {
			l.execute(fn)
			n++
		}
	}
}

func (l *Loop) nextTask() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return fn, true
}

func (l *Loop) takeFrames() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	frames := l.frames
	l.frames = nil
	return frames
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panicked.Add(1)
			l.logger.Error("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	l.executed.Add(1)
	fn()
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}

// Close stops Run and drops any queued work. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.tasks = nil
	l.frames = nil
	close(l.done)
}

// Running reports whether Run is executing.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Stats holds loop counters.
type Stats struct {
	Executed uint64
	Panicked uint64
	Pending  int
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	pending := len(l.tasks) + len(l.frames)
	l.mu.Unlock()
	return Stats{
		Executed: l.executed.Load(),
		Panicked: l.panicked.Load(),
		Pending:  pending,
	}
}
