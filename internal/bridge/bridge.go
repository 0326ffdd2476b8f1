// Package bridge keeps a host editor and an engine session in sync.
//
// A Bridge owns the event loop every host mutation runs on. Engine
// notifications arrive on the transport goroutine and are posted onto the
// loop in order; keys typed in the host are translated and forwarded to the
// engine, which stays authoritative for the text.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/nvimbridge/internal/applier"
	"github.com/dshills/nvimbridge/internal/config"
	"github.com/dshills/nvimbridge/internal/fallback"
	"github.com/dshills/nvimbridge/internal/host"
	"github.com/dshills/nvimbridge/internal/input/key"
	"github.com/dshills/nvimbridge/internal/logging"
	"github.com/dshills/nvimbridge/internal/loop"
	"github.com/dshills/nvimbridge/internal/reconcile"
	"github.com/dshills/nvimbridge/internal/session"
)

// Bridge lifecycle errors.
var (
	ErrNotStarted     = errors.New("bridge not started")
	ErrAlreadyStarted = errors.New("bridge already started")
	ErrStopped        = errors.New("bridge stopped")
)

// Recovery runs op until it succeeds or the policy gives up.
// *recovery.Policy implements it.
type Recovery interface {
	Attempt(ctx context.Context, op func(ctx context.Context) error) error
}

// CmdlineObserver receives externalized command-line and popup-menu
// events on the loop.
type CmdlineObserver interface {
	OnCmdline(ev session.CmdlineEvent)
}

// Deps are the collaborators a Bridge is built from. Editors is required.
type Deps struct {
	Editors host.Provider

	// Connector opens sessions. Nil means EngineConnector over cfg.Engine.
	Connector Connector

	// Recovery guards Reconnect. Nil means a single try.
	Recovery Recovery

	Cmdline CmdlineObserver
	Clock   fallback.Clock
	Logger  *logging.Logger
}

// openDoc remembers what Open last loaded so a reconnect can restore it.
type openDoc struct {
	path string
}

// Bridge is the running sync layer between one host and one engine.
type Bridge struct {
	cfg     config.Config
	deps    Deps
	logger  *logging.Logger
	metrics *Metrics

	loop       *loop.Loop
	applier    *applier.Applier
	reconciler *reconcile.Reconciler
	modePoll   *fallback.ModePoller
	keyPoll    *fallback.KeystrokePoller

	mu      sync.RWMutex
	engine  Engine
	doc     *openDoc
	retired map[session.Buffer]struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	// openMu serializes buffer switches and reconnects.
	openMu sync.Mutex

	started  atomic.Bool
	stopped  atomic.Bool
	loopDone chan error
}

// New creates a Bridge. Nothing is started until Start.
func New(cfg config.Config, deps Deps) (*Bridge, error) {
	if deps.Editors == nil {
		return nil, errors.New("bridge: editor provider is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if deps.Connector == nil {
		deps.Connector = EngineConnector{Config: cfg.Engine, Logger: logger}
	}

	unit := cfg.ColumnUnit()
	b := &Bridge{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.WithComponent("bridge"),
		metrics:  NewMetrics(),
		retired:  make(map[session.Buffer]struct{}),
		ctx:      context.Background(),
		cancel:   func() {},
		loopDone: make(chan error, 1),
	}
	b.loop = loop.New(loop.WithLogger(logger))
	b.applier = applier.New(deps.Editors, b.loop, applier.WithUnit(unit), applier.WithLogger(logger))
	b.reconciler = reconcile.New(deps.Editors, unit, logger)

	pollDeps := fallback.Deps{
		Engine:  engineRef{b},
		Editors: deps.Editors,
		Loop:    b.loop,
		Pending: b.applier,
		Clock:   deps.Clock,
		Logger:  logger,
	}
	if cfg.Sync.ModePoll {
		b.modePoll = fallback.NewModePoller(cfg.Sync.ModePollInterval.Std(), b.reconciler, pollDeps)
	}
	if cfg.Sync.KeystrokePoll {
		b.keyPoll = fallback.NewKeystrokePoller(cfg.Sync.KeystrokePollInterval.Std(), b.reconciler, pollDeps)
	}
	return b, nil
}

// Start runs the event loop and connects the engine. A failed connect is
// returned and leaves the bridge stopped.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.mu.Lock()
	b.ctx, b.cancel = runCtx, cancel
	b.mu.Unlock()

	go func() {
		b.loopDone <- b.loop.Run(runCtx)
	}()

	if err := b.connect(ctx, false); err != nil {
		b.stopped.Store(true)
		cancel()
		b.loop.Close()
		<-b.loopDone
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

func (b *Bridge) connect(ctx context.Context, reconnect bool) error {
	eng, err := b.deps.Connector.Connect(ctx, listener{b})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.engine = eng
	b.mu.Unlock()
	b.metrics.RecordConnect(reconnect)

	// A mode_change that raced the connect is newer than the seeded mode.
	mode := eng.Mode()
	b.loop.Post(func() {
		if b.reconciler.Mode() == "" {
			b.reconciler.OnModeChange(mode)
		}
	})
	b.logger.Info("engine session %s connected", eng.ID())
	return nil
}

func (b *Bridge) current() (Engine, error) {
	if b.stopped.Load() {
		return nil, ErrStopped
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.engine == nil {
		return nil, ErrNotStarted
	}
	return b.engine, nil
}

func (b *Bridge) runContext() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}

// HandleKey forwards a host key event to the engine. It reports whether
// the key was consumed; an untranslatable key, or any key while no engine
// is connected, is left to the host.
func (b *Bridge) HandleKey(ctx context.Context, ev key.Event) bool {
	keys, ok := key.Translate(ev)
	if !ok {
		b.metrics.RecordUntranslated()
		return false
	}
	eng, err := b.current()
	if err != nil {
		b.metrics.RecordUntranslated()
		b.logger.Debug("key %s left to host: %v", keys, err)
		return false
	}

	start := time.Now()
	if _, err := eng.SendInput(ctx, keys); err != nil {
		b.metrics.RecordInputFailed()
		b.logger.Warn("send input %s: %v", keys, err)
		return true
	}
	b.metrics.RecordInput(time.Since(start))

	if b.keyPoll != nil {
		b.keyPoll.Trigger(b.runContext())
	}
	return true
}

// Open makes path, or a new unnamed buffer when path is empty, the
// engine's current buffer and attaches to it. A non-nil text seeds the
// buffer; otherwise the host is given the buffer's content.
func (b *Bridge) Open(ctx context.Context, path string, text *string) error {
	eng, err := b.current()
	if err != nil {
		return err
	}
	b.openMu.Lock()
	defer b.openMu.Unlock()
	return b.open(ctx, eng, path, text)
}

func (b *Bridge) open(ctx context.Context, eng Engine, path string, text *string) error {
	if prev, ok := eng.AttachedBuffer(); ok {
		b.retire(prev)
		if err := eng.DetachBuffer(ctx, prev); err != nil {
			b.logger.Warn("detach buffer %d: %v", prev, err)
		}
	}

	buf, err := eng.CreateOrLoadBuffer(ctx, path, text)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}

	b.mu.Lock()
	delete(b.retired, buf)
	b.doc = &openDoc{path: path}
	b.mu.Unlock()

	if text != nil {
		return nil
	}
	content, err := eng.BufferText(ctx, buf)
	if err != nil {
		return fmt.Errorf("read buffer %d: %w", buf, err)
	}
	b.loop.Post(func() {
		ed, ok := b.deps.Editors.ActiveEditor()
		if ok && ed.Value() != content {
			ed.SetValue(content)
		}
	})
	return nil
}

func (b *Bridge) retire(buf session.Buffer) {
	b.mu.Lock()
	b.retired[buf] = struct{}{}
	b.mu.Unlock()
}

func (b *Bridge) isRetired(buf session.Buffer) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.retired[buf]
	return ok
}

// Reconnect replaces the session with a fresh one under the Recovery
// policy. The last opened document is reloaded with the host's current
// text, since the host kept the user's view while the engine was gone.
func (b *Bridge) Reconnect(ctx context.Context) error {
	if !b.started.Load() {
		return ErrNotStarted
	}
	if b.stopped.Load() {
		return ErrStopped
	}
	b.openMu.Lock()
	defer b.openMu.Unlock()

	b.mu.Lock()
	old := b.engine
	b.engine = nil
	clear(b.retired)
	doc := b.doc
	b.mu.Unlock()

	if old != nil {
		old.Stop(ctx)
		b.logger.Info("engine session %s stopped for reconnect", old.ID())
	}

	op := func(ctx context.Context) error { return b.connect(ctx, true) }
	var err error
	if b.deps.Recovery != nil {
		err = b.deps.Recovery.Attempt(ctx, op)
	} else {
		err = op(ctx)
	}
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}

	if doc == nil {
		return nil
	}
	var text string
	err = b.loop.Do(ctx, func() {
		if ed, ok := b.deps.Editors.ActiveEditor(); ok {
			text = ed.Value()
		}
	})
	if err != nil {
		return fmt.Errorf("reconnect: read host text: %w", err)
	}
	eng, err := b.current()
	if err != nil {
		return err
	}
	if err := b.open(ctx, eng, doc.path, &text); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	return nil
}

// Stop ends the session, waits for in-flight polls and stops the loop.
// It is safe to call more than once.
func (b *Bridge) Stop(ctx context.Context) {
	if !b.started.Load() || !b.stopped.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	eng := b.engine
	b.engine = nil
	cancel := b.cancel
	b.mu.Unlock()

	if eng != nil {
		eng.Stop(ctx)
	}
	if b.modePoll != nil {
		b.modePoll.Wait()
	}
	if b.keyPoll != nil {
		b.keyPoll.Wait()
	}

	cancel()
	b.loop.Close()
	select {
	case <-b.loopDone:
	case <-ctx.Done():
		b.logger.Warn("loop did not stop: %v", ctx.Err())
	}
	b.logger.Info("stopped")
}

// Post runs fn on the loop. Hosts use it for their own edits so they never
// interleave with engine changes.
func (b *Bridge) Post(fn func()) {
	b.loop.Post(fn)
}

// Mode returns the last engine mode seen on the loop.
func (b *Bridge) Mode() string {
	return b.reconciler.Mode()
}

// Stats is a snapshot of every component's counters.
type Stats struct {
	Session       string
	Mode          string
	Metrics       MetricsSnapshot
	Loop          loop.Stats
	Applier       applier.Stats
	ModePoll      fallback.Stats
	KeystrokePoll fallback.Stats
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	s := Stats{
		Mode:    b.Mode(),
		Metrics: b.metrics.Snapshot(),
		Loop:    b.loop.Stats(),
		Applier: b.applier.Stats(),
	}
	if eng, err := b.current(); err == nil {
		s.Session = eng.ID()
	}
	if b.modePoll != nil {
		s.ModePoll = b.modePoll.Stats()
	}
	if b.keyPoll != nil {
		s.KeystrokePoll = b.keyPoll.Stats()
	}
	return s
}

// listener posts session callbacks onto the loop in arrival order.
type listener struct {
	b *Bridge
}

var _ session.Listener = listener{}

func (l listener) OnModeChange(mode string) {
	l.b.loop.Post(func() { l.b.reconciler.OnModeChange(mode) })
}

func (l listener) OnCursor(pos session.CursorPosition) {
	l.b.loop.Post(func() { l.b.reconciler.OnCursor(pos) })
}

func (l listener) OnLines(ev session.LineChangeEvent) {
	stale := l.b.isRetired(ev.Buffer)
	l.b.metrics.RecordLines(stale)
	if stale {
		l.b.logger.Debug("dropping change for detached buffer %d", ev.Buffer)
		return
	}
	l.b.loop.Post(func() { l.b.applier.Enqueue(ev) })
}

func (l listener) OnCmdline(ev session.CmdlineEvent) {
	obs := l.b.deps.Cmdline
	if obs == nil {
		l.b.logger.Debug("cmdline %s", ev.Kind)
		return
	}
	l.b.loop.Post(func() { obs.OnCmdline(ev) })
}

func (l listener) OnRedraw() {
	if l.b.modePoll == nil {
		return
	}
	l.b.loop.Post(func() { l.b.modePoll.Trigger(l.b.runContext()) })
}

// engineRef lets the pollers follow the session across reconnects.
type engineRef struct {
	b *Bridge
}

func (r engineRef) BufferText(ctx context.Context, buf session.Buffer) (string, error) {
	eng, err := r.b.current()
	if err != nil {
		return "", err
	}
	return eng.BufferText(ctx, buf)
}

func (r engineRef) Cursor(ctx context.Context) (session.CursorPosition, error) {
	eng, err := r.b.current()
	if err != nil {
		return session.CursorPosition{}, err
	}
	return eng.Cursor(ctx)
}
