package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/nvimbridge/internal/config"
	"github.com/dshills/nvimbridge/internal/host"
	"github.com/dshills/nvimbridge/internal/input/key"
	"github.com/dshills/nvimbridge/internal/recovery"
	"github.com/dshills/nvimbridge/internal/session"
)

type openCall struct {
	Path    string
	Text    string
	HasText bool
}

type fakeEngine struct {
	mu          sync.Mutex
	id          string
	mode        string
	text        string
	cursor      session.CursorPosition
	inputErr    error
	inputs      []string
	attached    session.Buffer
	hasAttached bool
	nextBuf     session.Buffer
	opened      []openCall
	detached    []session.Buffer
	stopped     bool
}

func (f *fakeEngine) ID() string { return f.id }

func (f *fakeEngine) Mode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeEngine) SendInput(_ context.Context, keys string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inputErr != nil {
		return 0, f.inputErr
	}
	f.inputs = append(f.inputs, keys)
	return len(keys), nil
}

func (f *fakeEngine) BufferText(context.Context, session.Buffer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, nil
}

func (f *fakeEngine) Cursor(context.Context) (session.CursorPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeEngine) AttachedBuffer() (session.Buffer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached, f.hasAttached
}

func (f *fakeEngine) DetachBuffer(_ context.Context, buf session.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, buf)
	f.hasAttached = false
	return nil
}

func (f *fakeEngine) CreateOrLoadBuffer(_ context.Context, path string, text *string) (session.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := openCall{Path: path}
	if text != nil {
		call.Text, call.HasText = *text, true
	}
	f.opened = append(f.opened, call)
	f.nextBuf++
	f.attached, f.hasAttached = f.nextBuf, true
	return f.nextBuf, nil
}

func (f *fakeEngine) Stop(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeEngine) snapshot() (inputs []string, opened []openCall, detached []session.Buffer, stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...), append([]openCall(nil), f.opened...),
		append([]session.Buffer(nil), f.detached...), f.stopped
}

var errRefused = errors.New("connection refused")

type fakeConnector struct {
	mu       sync.Mutex
	fail     int
	engines  []*fakeEngine
	listener session.Listener
}

func (c *fakeConnector) Connect(_ context.Context, l session.Listener) (Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return nil, errRefused
	}
	eng := &fakeEngine{id: "engine-" + string(rune('a'+len(c.engines))), mode: "n"}
	c.engines = append(c.engines, eng)
	c.listener = l
	return eng, nil
}

func (c *fakeConnector) last() (*fakeEngine, session.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engines[len(c.engines)-1], c.listener
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type cmdlineLog struct {
	got []session.CmdlineEvent
}

func (c *cmdlineLog) OnCmdline(ev session.CmdlineEvent) {
	c.got = append(c.got, ev)
}

type fixture struct {
	bridge    *Bridge
	doc       *host.Document
	connector *fakeConnector
	clock     *manualClock
	cmdline   *cmdlineLog
}

func newFixture(t *testing.T, mutate func(*config.Config, *Deps)) *fixture {
	t.Helper()
	f := &fixture{
		doc:       host.NewDocument("a\nb\nc"),
		connector: &fakeConnector{},
		clock:     &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		cmdline:   &cmdlineLog{},
	}
	cfg := config.Default()
	cfg.Host.ColumnUnit = "codepoints"
	deps := Deps{
		Editors:   host.NewActive(f.doc),
		Connector: f.connector,
		Cmdline:   f.cmdline,
		Clock:     f.clock,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	b, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.bridge = b
	t.Cleanup(func() { b.Stop(context.Background()) })
	return f
}

func (f *fixture) start(t *testing.T) (*fakeEngine, session.Listener) {
	t.Helper()
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return f.connector.last()
}

// settle waits until every task posted so far, and every frame those tasks
// deferred, has run.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	f.bridge.Post(func() {
		f.bridge.loop.Defer(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not settle")
	}
}

func TestBridge_LinesApplyInOrder(t *testing.T) {
	f := newFixture(t, nil)
	_, l := f.start(t)

	l.OnLines(session.LineChangeEvent{FirstLine: 1, LastLine: 2, Lines: []string{"B"}})
	l.OnLines(session.LineChangeEvent{FirstLine: 3, LastLine: 3, Lines: []string{"d"}})
	l.OnLines(session.LineChangeEvent{FirstLine: 0, LastLine: 1})
	f.settle(t)

	if got, want := f.doc.Value(), "B\nc\nd"; got != want {
		t.Errorf("Value() = %q, want %q", got, want)
	}
	if got := f.bridge.Stats().Applier.Applied; got != 3 {
		t.Errorf("Applied = %d, want 3", got)
	}
}

func TestBridge_ModeAndCursor(t *testing.T) {
	f := newFixture(t, nil)
	_, l := f.start(t)

	l.OnModeChange("insert")
	l.OnCursor(session.CursorPosition{Line: 10, Column: 99})
	f.settle(t)

	if got := f.bridge.Mode(); got != "insert" {
		t.Errorf("Mode() = %q, want insert", got)
	}
	if got := f.doc.Cursor(); got != (host.Position{Line: 2, Ch: 1}) {
		t.Errorf("Cursor() = %v, want (2:1)", got)
	}
}

func TestBridge_SeedsModeFromSession(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.settle(t)
	if got := f.bridge.Mode(); got != "n" {
		t.Errorf("Mode() = %q, want n", got)
	}
}

func TestBridge_HandleKey(t *testing.T) {
	f := newFixture(t, nil)
	eng, _ := f.start(t)
	eng.mu.Lock()
	eng.text = "engine text"
	eng.cursor = session.CursorPosition{Line: 0, Column: 3}
	eng.mu.Unlock()

	if !f.bridge.HandleKey(context.Background(), key.Event{Key: "w", Mods: key.ModCtrl}) {
		t.Fatal("HandleKey(Ctrl+w) = false")
	}
	if f.bridge.HandleKey(context.Background(), key.Event{Key: "Shift", Mods: key.ModShift}) {
		t.Error("HandleKey(Shift) = true, want false")
	}
	f.bridge.keyPoll.Wait()
	f.settle(t)

	inputs, _, _, _ := eng.snapshot()
	if diff := cmp.Diff([]string{"<C-w>"}, inputs); diff != "" {
		t.Errorf("inputs (-want +got):\n%s", diff)
	}
	if got := f.doc.Value(); got != "engine text" {
		t.Errorf("Value() = %q, want keystroke poll to sync the text", got)
	}
	if got := f.doc.Cursor(); got != (host.Position{Line: 0, Ch: 3}) {
		t.Errorf("Cursor() = %v, want (0:3)", got)
	}

	stats := f.bridge.Stats()
	if stats.Metrics.KeysSent != 1 || stats.Metrics.KeysUntouched != 1 {
		t.Errorf("keys sent/untouched = %d/%d, want 1/1", stats.Metrics.KeysSent, stats.Metrics.KeysUntouched)
	}
	if stats.KeystrokePoll.Runs != 1 {
		t.Errorf("keystroke poll runs = %d, want 1", stats.KeystrokePoll.Runs)
	}
}

func TestBridge_HandleKeyInputFailureStillConsumed(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Deps) { c.Sync.KeystrokePoll = false })
	eng, _ := f.start(t)
	eng.mu.Lock()
	eng.inputErr = errors.New("broken pipe")
	eng.mu.Unlock()

	if !f.bridge.HandleKey(context.Background(), key.Event{Key: "x"}) {
		t.Error("HandleKey() = false, want true")
	}
	if got := f.bridge.Stats().Metrics.KeysFailed; got != 1 {
		t.Errorf("KeysFailed = %d, want 1", got)
	}
}

func TestBridge_NotStarted(t *testing.T) {
	f := newFixture(t, nil)
	if f.bridge.HandleKey(context.Background(), key.Event{Key: "x"}) {
		t.Error("HandleKey() before Start = true")
	}
	if err := f.bridge.Open(context.Background(), "x.txt", nil); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Open() = %v, want ErrNotStarted", err)
	}
	if err := f.bridge.Reconnect(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Reconnect() = %v, want ErrNotStarted", err)
	}
}

func TestBridge_RedrawTriggersModePoll(t *testing.T) {
	f := newFixture(t, nil)
	eng, l := f.start(t)
	eng.mu.Lock()
	eng.text = "typed"
	eng.mu.Unlock()

	// Normal mode: no poll.
	l.OnModeChange("normal")
	l.OnRedraw()
	f.settle(t)
	f.bridge.modePoll.Wait()

	l.OnModeChange("insert")
	l.OnRedraw()
	f.settle(t)
	f.bridge.modePoll.Wait()
	f.settle(t)

	if got := f.doc.Value(); got != "typed" {
		t.Errorf("Value() = %q, want typed", got)
	}
	if got := f.bridge.Stats().ModePoll.Runs; got != 1 {
		t.Errorf("mode poll runs = %d, want 1", got)
	}
}

func TestBridge_OpenDropsStaleChanges(t *testing.T) {
	f := newFixture(t, nil)
	eng, l := f.start(t)
	eng.mu.Lock()
	eng.text = "first"
	eng.mu.Unlock()

	if err := f.bridge.Open(context.Background(), "first.txt", nil); err != nil {
		t.Fatalf("Open(first) error = %v", err)
	}
	f.settle(t)
	if got := f.doc.Value(); got != "first" {
		t.Fatalf("Value() = %q, want first", got)
	}

	seed := "second body"
	if err := f.bridge.Open(context.Background(), "second.txt", &seed); err != nil {
		t.Fatalf("Open(second) error = %v", err)
	}

	l.OnLines(session.LineChangeEvent{Buffer: 1, FirstLine: 0, LastLine: 1, Lines: []string{"stale"}})
	l.OnLines(session.LineChangeEvent{Buffer: 2, FirstLine: 0, LastLine: 1, Lines: []string{"fresh"}})
	f.settle(t)

	if got := f.doc.Value(); got != "fresh" {
		t.Errorf("Value() = %q, want fresh", got)
	}
	_, opened, detached, _ := eng.snapshot()
	want := []openCall{{Path: "first.txt"}, {Path: "second.txt", Text: seed, HasText: true}}
	if diff := cmp.Diff(want, opened); diff != "" {
		t.Errorf("opened (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]session.Buffer{1}, detached); diff != "" {
		t.Errorf("detached (-want +got):\n%s", diff)
	}
	if got := f.bridge.Stats().Metrics.LinesStale; got != 1 {
		t.Errorf("LinesStale = %d, want 1", got)
	}
}

func TestBridge_Cmdline(t *testing.T) {
	f := newFixture(t, nil)
	_, l := f.start(t)

	l.OnCmdline(session.CmdlineEvent{Kind: session.CmdlineShown, Content: "w", FirstChar: ":"})
	l.OnCmdline(session.CmdlineEvent{Kind: session.CmdlineHidden})
	f.settle(t)

	if len(f.cmdline.got) != 2 || f.cmdline.got[0].Content != "w" || f.cmdline.got[1].Kind != session.CmdlineHidden {
		t.Errorf("cmdline events = %+v", f.cmdline.got)
	}
}

func TestBridge_StartFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.connector.fail = 1

	err := f.bridge.Start(context.Background())
	if !errors.Is(err, errRefused) {
		t.Fatalf("Start() = %v, want errRefused", err)
	}
	if f.bridge.loop.Running() {
		t.Error("loop still running after failed start")
	}
	if err := f.bridge.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
}

func TestBridge_ReconnectRestoresDocument(t *testing.T) {
	var slept []time.Duration
	policy := recovery.New(recovery.Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}, recovery.WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))

	f := newFixture(t, func(_ *config.Config, d *Deps) { d.Recovery = policy })
	old, _ := f.start(t)
	if err := f.bridge.Open(context.Background(), "notes.txt", nil); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f.settle(t)

	f.bridge.Post(func() { f.doc.SetValue("kept while offline") })
	f.connector.mu.Lock()
	f.connector.fail = 1
	f.connector.mu.Unlock()

	if err := f.bridge.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}

	if _, _, _, stopped := old.snapshot(); !stopped {
		t.Error("old session not stopped")
	}
	fresh, _ := f.connector.last()
	if fresh == old {
		t.Fatal("Reconnect() did not open a new session")
	}
	_, opened, _, _ := fresh.snapshot()
	want := []openCall{{Path: "notes.txt", Text: "kept while offline", HasText: true}}
	if diff := cmp.Diff(want, opened); diff != "" {
		t.Errorf("reopened (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{10 * time.Millisecond}, slept); diff != "" {
		t.Errorf("backoff (-want +got):\n%s", diff)
	}

	stats := f.bridge.Stats()
	if stats.Metrics.Connects != 2 || stats.Metrics.Reconnects != 1 {
		t.Errorf("connects/reconnects = %d/%d, want 2/1", stats.Metrics.Connects, stats.Metrics.Reconnects)
	}
	if stats.Session != fresh.id {
		t.Errorf("Session = %q, want %q", stats.Session, fresh.id)
	}
}

func TestBridge_ReconnectGivesUp(t *testing.T) {
	policy := recovery.New(recovery.Config{MaxAttempts: 2},
		recovery.WithSleep(func(context.Context, time.Duration) error { return nil }))
	f := newFixture(t, func(_ *config.Config, d *Deps) { d.Recovery = policy })
	f.start(t)
	f.connector.mu.Lock()
	f.connector.fail = 5
	f.connector.mu.Unlock()

	err := f.bridge.Reconnect(context.Background())
	var exhausted *recovery.ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 2 {
		t.Fatalf("Reconnect() = %v, want ExhaustedError after 2 attempts", err)
	}
	if f.bridge.HandleKey(context.Background(), key.Event{Key: "x"}) {
		t.Error("HandleKey() without a session = true")
	}
}

func TestBridge_Stop(t *testing.T) {
	f := newFixture(t, nil)
	eng, _ := f.start(t)

	f.bridge.Stop(context.Background())
	f.bridge.Stop(context.Background())

	if _, _, _, stopped := eng.snapshot(); !stopped {
		t.Error("session not stopped")
	}
	if f.bridge.loop.Running() {
		t.Error("loop still running")
	}
	if err := f.bridge.Open(context.Background(), "", nil); !errors.Is(err, ErrStopped) {
		t.Errorf("Open() after Stop = %v, want ErrStopped", err)
	}
}
