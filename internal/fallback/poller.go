// Package fallback keeps the host text correct when incremental change
// notifications are missed.
//
// Two pollers fetch the engine's whole buffer and replace the host text
// wholesale when it differs. The mode poller runs after redraws while the
// engine is in an insert-like mode; the keystroke poller runs after every
// forwarded key and also re-syncs the cursor. Each is rate limited by its
// own Throttle. This is a correctness net, not a fast path.
package fallback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/nvimbridge/internal/host"
	"github.com/dshills/nvimbridge/internal/logging"
	"github.com/dshills/nvimbridge/internal/session"
)

// Default poll intervals.
const (
	DefaultModeInterval      = 50 * time.Millisecond
	DefaultKeystrokeInterval = 33 * time.Millisecond
)

// Engine is the part of the session the pollers query.
type Engine interface {
	BufferText(ctx context.Context, buf session.Buffer) (string, error)
	Cursor(ctx context.Context) (session.CursorPosition, error)
}

// ModeSource reports whether the engine is in an insert-like mode.
type ModeSource interface {
	InsertLike() bool
}

// CursorSink receives engine cursor positions on the loop.
type CursorSink interface {
	OnCursor(pos session.CursorPosition)
}

// Poster runs work on the event loop.
type Poster interface {
	Post(fn func())
}

// Flusher applies change notifications that are queued but not yet
// applied. It is called on the loop.
type Flusher interface {
	Flush()
}

// Deps are shared by both pollers.
type Deps struct {
	Engine  Engine
	Editors host.Provider
	Loop    Poster
	// Pending, when set, is drained before a fetched text is compared so
	// a queued change is never applied on top of text that includes it.
	Pending Flusher
	Clock   Clock
	Logger  *logging.Logger
}

// Stats holds poller counters.
type Stats struct {
	Runs      uint64
	Throttled uint64
	Failed    uint64
	Replaced  uint64
}

// poller is the fetch-compare-replace cycle both pollers share.
type poller struct {
	name     string
	deps     Deps
	throttle *Throttle
	logger   *logging.Logger

	// keepEmpty allows an empty engine buffer to clear the host text.
	keepEmpty bool

	wg       sync.WaitGroup
	failed   atomic.Uint64
	replaced atomic.Uint64
}

func newPoller(name string, interval time.Duration, keepEmpty bool, deps Deps) *poller {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &poller{
		name:      name,
		deps:      deps,
		throttle:  NewThrottle(interval, deps.Clock),
		logger:    logger.WithComponent(name),
		keepEmpty: keepEmpty,
	}
}

// start runs fetch off the loop if the throttle allows it.
func (p *poller) start(ctx context.Context, fetch func(ctx context.Context)) bool {
	done, ok := p.throttle.Try()
	if !ok {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer done()
		fetch(ctx)
	}()
	return true
}

func (p *poller) syncText(ctx context.Context) {
	text, err := p.deps.Engine.BufferText(ctx, 0)
	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("fetch buffer text: %v", err)
		return
	}
	if text == "" && !p.keepEmpty {
		return
	}
	p.deps.Loop.Post(func() {
		if p.deps.Pending != nil {
			p.deps.Pending.Flush()
		}
		ed, ok := p.deps.Editors.ActiveEditor()
		if !ok {
			return
		}
		if ed.Value() == text {
			return
		}
		p.replaced.Add(1)
		p.logger.Debug("host text diverged, replacing")
		ed.SetValue(text)
	})
}

func (p *poller) stats() Stats {
	ran, throttled := p.throttle.Counts()
	return Stats{
		Runs:      ran,
		Throttled: throttled,
		Failed:    p.failed.Load(),
		Replaced:  p.replaced.Load(),
	}
}

// ModePoller re-syncs text after redraws while the engine is inserting.
type ModePoller struct {
	*poller
	modes ModeSource
}

// NewModePoller creates a mode-gated poller. A zero interval means
// DefaultModeInterval.
func NewModePoller(interval time.Duration, modes ModeSource, deps Deps) *ModePoller {
	if interval <= 0 {
		interval = DefaultModeInterval
	}
	return &ModePoller{
		poller: newPoller("mode-poll", interval, true, deps),
		modes:  modes,
	}
}

// Trigger starts a poll if the engine is in an insert-like mode and the
// throttle allows it. It never blocks.
func (p *ModePoller) Trigger(ctx context.Context) {
	if !p.modes.InsertLike() {
		return
	}
	p.start(ctx, p.syncText)
}

// Wait blocks until in-flight polls have fetched their result.
func (p *ModePoller) Wait() { p.wg.Wait() }

// Stats returns the poller counters.
func (p *ModePoller) Stats() Stats { return p.stats() }

// KeystrokePoller re-syncs text and cursor after forwarded keys.
type KeystrokePoller struct {
	*poller
	cursor CursorSink
}

// NewKeystrokePoller creates a keystroke-triggered poller. A zero interval
// means DefaultKeystrokeInterval. An empty engine buffer never clears the
// host text from this poller, since a key may be mid-flight.
func NewKeystrokePoller(interval time.Duration, cursor CursorSink, deps Deps) *KeystrokePoller {
	if interval <= 0 {
		interval = DefaultKeystrokeInterval
	}
	return &KeystrokePoller{
		poller: newPoller("keystroke-poll", interval, false, deps),
		cursor: cursor,
	}
}

// Trigger starts a poll if the throttle allows it. It never blocks.
func (p *KeystrokePoller) Trigger(ctx context.Context) {
	p.start(ctx, func(ctx context.Context) {
		p.syncText(ctx)

		pos, err := p.deps.Engine.Cursor(ctx)
		if err != nil {
			p.failed.Add(1)
			p.logger.Debug("fetch cursor: %v", err)
			return
		}
		p.deps.Loop.Post(func() { p.cursor.OnCursor(pos) })
	})
}

// Wait blocks until in-flight polls have fetched their result.
func (p *KeystrokePoller) Wait() { p.wg.Wait() }

// Stats returns the poller counters.
func (p *KeystrokePoller) Stats() Stats { return p.stats() }
