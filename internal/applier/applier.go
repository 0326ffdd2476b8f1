// Package applier applies the engine's incremental buffer changes to the
// host editor.
//
// Changes are queued as they arrive and applied together on the next
// frame. A flush swaps the queue out before applying it, so changes that
// arrive while it runs start a new flush instead of joining the slice
// being iterated. Every method must run on the event loop.
package applier

import (
	"strings"
	"sync/atomic"

	"github.com/dshills/nvimbridge/internal/host"
	"github.com/dshills/nvimbridge/internal/logging"
	"github.com/dshills/nvimbridge/internal/session"
)

// Scheduler defers work to the next frame.
type Scheduler interface {
	Defer(fn func())
}

// Applier owns the pending change queue.
type Applier struct {
	editors host.Provider
	sched   Scheduler
	unit    host.Unit
	logger  *logging.Logger

	queue     []session.LineChangeEvent
	scheduled bool

	applied atomic.Uint64
	skipped atomic.Uint64
	flushes atomic.Uint64
}

// Option configures an Applier.
type Option func(*Applier)

// WithUnit sets the column unit used for editors that do not report one.
func WithUnit(u host.Unit) Option {
	return func(a *Applier) {
		a.unit = u
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Applier) {
		a.logger = l
	}
}

// New creates an Applier that resolves the target editor through editors
// at apply time and schedules flushes on sched.
func New(editors host.Provider, sched Scheduler, opts ...Option) *Applier {
	a := &Applier{
		editors: editors,
		sched:   sched,
		unit:    host.UnitCodepoints,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithComponent("applier")
	return a
}

// Enqueue appends ev to the queue and schedules a flush if none is pending.
func (a *Applier) Enqueue(ev session.LineChangeEvent) {
	a.queue = append(a.queue, ev)
	if !a.scheduled {
		a.scheduled = true
		a.sched.Defer(a.Flush)
	}
}

// Pending returns the number of queued events.
func (a *Applier) Pending() int {
	return len(a.queue)
}

// Flush applies every queued event in arrival order.
func (a *Applier) Flush() {
	if len(a.queue) == 0 {
		a.scheduled = false
		return
	}

	batch := a.queue
	a.queue = nil
	a.scheduled = false
	a.flushes.Add(1)

	for _, ev := range batch {
		ed, ok := a.editors.ActiveEditor()
		if !ok {
			a.skipped.Add(1)
			a.logger.Debug("no active editor, skipping change [%d, %d)", ev.FirstLine, ev.LastLine)
			continue
		}
		a.ApplyEvent(ed, ev)
	}
}

// ApplyEvent applies one change to ed.
//
// The engine's LastLine is exclusive while the editor's range end is a
// character position, so a replacement ends at the end of line LastLine-1
// (or the end of the document) rather than at the start of LastLine, which
// would also swallow that line's newline.
func (a *Applier) ApplyEvent(ed host.Editor, ev session.LineChangeEvent) {
	unit := host.UnitOf(ed, a.unit)
	n := ed.LineCount()

	first, last := ev.FirstLine, ev.LastLine
	if last < 0 {
		last = n
	}
	first = clamp(first, 0, n)
	last = clamp(last, 0, n)
	if first > last {
		last = first
	}

	text := strings.Join(ev.Lines, "\n")
	end := host.End(ed, unit)

	switch {
	case first == last && len(ev.Lines) == 0:
		a.skipped.Add(1)
		return

	case first == last:
		if first < n {
			at := host.Position{Line: first}
			ed.ReplaceRange(text+"\n", at, at)
		} else {
			ed.ReplaceRange("\n"+text, end, end)
		}

	case len(ev.Lines) == 0:
		switch {
		case last < n:
			ed.ReplaceRange("", host.Position{Line: first}, host.Position{Line: last})
		case first > 0:
			prev := host.Position{Line: first - 1, Ch: unit.Len(ed.Line(first - 1))}
			ed.ReplaceRange("", prev, end)
		default:
			ed.ReplaceRange("", host.Position{}, end)
		}

	default:
		to := end
		if last < n {
			to = host.Position{Line: last - 1, Ch: unit.Len(ed.Line(last - 1))}
		}
		ed.ReplaceRange(text, host.Position{Line: first}, to)
	}
	a.applied.Add(1)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Stats holds applier counters.
type Stats struct {
	Applied uint64
	Skipped uint64
	Flushes uint64
}

// Stats returns a snapshot of the counters. It is safe to call from any
// goroutine.
func (a *Applier) Stats() Stats {
	return Stats{
		Applied: a.applied.Load(),
		Skipped: a.skipped.Load(),
		Flushes: a.flushes.Load(),
	}
}
