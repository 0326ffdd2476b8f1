package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/nvimbridge/internal/logging"
)

// Default UI grid size.
const (
	DefaultWidth  = 80
	DefaultHeight = 40
)

// Options configures a Session.
type Options struct {
	// Width and Height are the UI grid size sent with ui_attach.
	Width  int
	Height int

	// CallTimeout bounds how long a request waits for its answer.
	// Zero means no bound beyond the caller's context.
	CallTimeout time.Duration

	Logger *logging.Logger
}

func (o Options) logger() *logging.Logger {
	if o.Logger == nil {
		return logging.Nop()
	}
	return o.Logger
}

// uiOptions are the ui_attach extensions the session asks for. The
// externalized command line, messages and popup menu keep the engine from
// drawing them into the grid, which the host never displays.
func uiOptions() map[string]any {
	return map[string]any{
		"rgb":           true,
		"ext_cmdline":   true,
		"ext_messages":  true,
		"ext_popupmenu": true,
		"ext_hlstate":   true,
		"ext_linegrid":  true,
	}
}

// Session is one live connection to the engine. It exclusively owns its
// Client and closes it on Stop.
type Session struct {
	id       string
	client   Client
	listener Listener
	logger   *logging.Logger
	timeout  time.Duration

	// ctx is cancelled by Stop so background follow-ups give up.
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	mode string
	caps Capabilities

	// attachMu serializes attach and detach so the one-buffer rule holds
	// across the RPC round-trip.
	attachMu    sync.Mutex
	attached    Buffer
	hasAttached bool

	stopped atomic.Bool

	// followMu orders followUps.Add against the Wait in Stop.
	followMu  sync.Mutex
	followUps sync.WaitGroup
}

// Connect establishes a session over an already-open client.
//
// Handlers are registered before anything is sent, so listener sees every
// notification. The capability probe may fail without consequence; a
// failed UI attach is fatal, and the client is closed before returning.
func Connect(ctx context.Context, client Client, listener Listener, opts Options) (*Session, error) {
	if client == nil {
		return nil, &ConnectError{Stage: "client", Err: ErrNotConnected}
	}
	if listener == nil {
		listener = NopListener{}
	}
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		client:   client,
		listener: listener,
		logger:   opts.logger().WithComponent("session").WithField("session", id),
		timeout:  opts.CallTimeout,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.registerHandlers(); err != nil {
		s.abort()
		return nil, &ConnectError{Stage: "register handlers", Err: err}
	}

	s.probe(ctx)

	err := s.exec(ctx, "nvim_ui_attach", func() error {
		return client.AttachUI(width, height, uiOptions())
	})
	if err != nil {
		s.abort()
		return nil, &ConnectError{Stage: "ui attach", Err: fmt.Errorf("%w: %w", ErrUIAttach, err)}
	}

	if _, err := s.RefreshMode(ctx); err != nil {
		s.logger.Debug("initial mode query failed: %v", err)
	}

	s.logger.Info("connected (%dx%d, engine %s)", width, height, s.Capabilities().Version)
	return s, nil
}

func (s *Session) abort() {
	s.stopped.Store(true)
	s.cancel()
	if err := s.client.Close(); err != nil {
		s.logger.Debug("close after failed connect: %v", err)
	}
}

func (s *Session) probe(ctx context.Context) {
	var info []any
	err := s.exec(ctx, "nvim_get_api_info", func() error {
		var err error
		info, err = s.client.APIInfo()
		return err
	})
	if err != nil {
		s.logger.Warn("capability probe failed: %v", err)
		return
	}

	caps, err := parseCapabilities(info)
	if err != nil {
		s.logger.Warn("capability probe unreadable: %v", err)
		return
	}
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
	s.logger.Debug("engine channel %d, api level %d", caps.ChannelID, caps.APILevel)
	if missing := caps.missingUIOptions(); len(missing) > 0 {
		s.logger.Warn("engine does not advertise %s", strings.Join(missing, ", "))
	}
}

// ID returns the random identifier of this session.
func (s *Session) ID() string {
	return s.id
}

// Mode returns the last mode reported by the engine.
func (s *Session) Mode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *Session) setMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// Capabilities returns what the engine reported at connect time.
func (s *Session) Capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// Stopped reports whether Stop has been called.
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

// AttachedBuffer returns the buffer currently subscribed for changes.
func (s *Session) AttachedBuffer() (Buffer, bool) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	return s.attached, s.hasAttached
}

// call runs fn as engine request method once the session is usable.
func (s *Session) call(ctx context.Context, method string, fn func() error) error {
	if s.client == nil {
		return &CallError{Method: method, Err: ErrNotConnected}
	}
	if s.stopped.Load() {
		return &CallError{Method: method, Err: ErrStopped}
	}
	return s.exec(ctx, method, fn)
}

// exec runs fn off the caller's goroutine and waits for it, the call
// timeout, or ctx. An abandoned fn still finishes in the background; the
// transport answers or fails every request eventually.
func (s *Session) exec(ctx context.Context, method string, fn func() error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		if err != nil {
			return &CallError{Method: method, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &CallError{Method: method, Err: ctx.Err()}
	}
}

// SendInput queues keys, in engine key notation, for the engine to
// process. It returns the number of bytes accepted.
func (s *Session) SendInput(ctx context.Context, keys string) (int, error) {
	var n int
	err := s.call(ctx, "nvim_input", func() error {
		var err error
		n, err = s.client.Input(keys)
		return err
	})
	return n, err
}

// Command executes an Ex command.
func (s *Session) Command(ctx context.Context, cmd string) error {
	return s.call(ctx, "nvim_command", func() error {
		return s.client.Command(cmd)
	})
}

// Cursor returns the cursor of the current window, 0-based.
func (s *Session) Cursor(ctx context.Context) (CursorPosition, error) {
	var pos [2]int
	err := s.call(ctx, "nvim_win_get_cursor", func() error {
		win, err := s.client.CurrentWindow()
		if err != nil {
			return err
		}
		pos, err = s.client.WindowCursor(win)
		return err
	})
	if err != nil {
		return CursorPosition{}, err
	}
	return CursorPosition{
		Line:   max(pos[0]-1, 0),
		Column: max(pos[1], 0),
	}, nil
}

// SetCursor moves the cursor of the current window.
func (s *Session) SetCursor(ctx context.Context, pos CursorPosition) error {
	return s.call(ctx, "nvim_win_set_cursor", func() error {
		win, err := s.client.CurrentWindow()
		if err != nil {
			return err
		}
		return s.client.SetWindowCursor(win, [2]int{pos.Line + 1, max(pos.Column, 0)})
	})
}

// BufferText returns the full text of buf joined with newlines. Buffer 0
// is the current buffer.
func (s *Session) BufferText(ctx context.Context, buf Buffer) (string, error) {
	var lines [][]byte
	err := s.call(ctx, "nvim_buf_get_lines", func() error {
		var err error
		lines, err = s.client.BufferLines(buf, 0, -1, false)
		return err
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.Write(line)
	}
	return sb.String(), nil
}

// SetBufferText replaces the whole content of buf.
func (s *Session) SetBufferText(ctx context.Context, buf Buffer, text string) error {
	parts := strings.Split(text, "\n")
	lines := make([][]byte, len(parts))
	for i, p := range parts {
		lines[i] = []byte(p)
	}
	return s.call(ctx, "nvim_buf_set_lines", func() error {
		return s.client.SetBufferLines(buf, 0, -1, false, lines)
	})
}

// AttachBuffer subscribes to change notifications for buf. Attaching the
// buffer that is already attached is a no-op; attaching any other buffer
// first requires DetachBuffer.
func (s *Session) AttachBuffer(ctx context.Context, buf Buffer) error {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	if s.hasAttached {
		if s.attached == buf {
			return nil
		}
		return &CallError{Method: "nvim_buf_attach", Err: ErrBufferAttached}
	}

	var ok bool
	err := s.call(ctx, "nvim_buf_attach", func() error {
		var err error
		ok, err = s.client.AttachBuffer(buf, false, map[string]any{})
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return &CallError{Method: "nvim_buf_attach", Err: ErrAttachRefused}
	}

	s.attached = buf
	s.hasAttached = true
	s.logger.Debug("attached buffer %d", buf)
	return nil
}

// DetachBuffer unsubscribes from buf. The local attachment is cleared even
// when the engine call fails, since the usual cause is a buffer that no
// longer exists.
func (s *Session) DetachBuffer(ctx context.Context, buf Buffer) error {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	err := s.call(ctx, "nvim_buf_detach", func() error {
		_, err := s.client.DetachBuffer(buf)
		return err
	})
	if s.hasAttached && s.attached == buf {
		s.hasAttached = false
		s.attached = 0
	}
	return err
}

// CreateOrLoadBuffer makes path, or a fresh unnamed buffer when path is
// empty, the current buffer. A non-nil initialText replaces its content
// and leaves it unmodified. The buffer is then attached; an attach failure
// is logged, not returned.
func (s *Session) CreateOrLoadBuffer(ctx context.Context, path string, initialText *string) (Buffer, error) {
	var buf Buffer
	var err error
	if path != "" {
		buf, err = s.editFile(ctx, path)
	} else {
		buf, err = s.newBuffer(ctx)
	}
	if err != nil {
		return 0, err
	}

	if initialText != nil {
		if err := s.SetBufferText(ctx, buf, *initialText); err != nil {
			return buf, err
		}
		if err := s.Command(ctx, "set nomodified"); err != nil {
			return buf, err
		}
	}

	if err := s.AttachBuffer(ctx, buf); err != nil {
		s.logger.Warn("attach buffer %d: %v", buf, err)
	}
	return buf, nil
}

func (s *Session) editFile(ctx context.Context, path string) (Buffer, error) {
	var escaped string
	err := s.call(ctx, "nvim_call_function", func() error {
		return s.client.Call("fnameescape", &escaped, path)
	})
	if err != nil {
		return 0, err
	}
	if err := s.Command(ctx, "edit "+escaped); err != nil {
		return 0, err
	}

	var buf Buffer
	err = s.call(ctx, "nvim_get_current_buf", func() error {
		var err error
		buf, err = s.client.CurrentBuffer()
		return err
	})
	return buf, err
}

func (s *Session) newBuffer(ctx context.Context) (Buffer, error) {
	var buf Buffer
	err := s.call(ctx, "nvim_create_buf", func() error {
		var err error
		if buf, err = s.client.CreateBuffer(true, false); err != nil {
			return err
		}
		return s.client.SetCurrentBuffer(buf)
	})
	return buf, err
}

// RefreshMode asks the engine for its current mode and records it.
func (s *Session) RefreshMode(ctx context.Context) (string, error) {
	var mode string
	err := s.call(ctx, "nvim_get_mode", func() error {
		m, err := s.client.Mode()
		if err != nil {
			return err
		}
		if m == nil {
			return errors.New("empty mode reply")
		}
		mode = m.Mode
		return nil
	})
	if err != nil {
		return "", err
	}
	s.setMode(mode)
	return mode, nil
}

// Stop quits the engine and closes the transport. Both steps are attempted
// independently and their failures logged. Requests made after Stop fail
// with ErrStopped. Stop is idempotent.
func (s *Session) Stop(ctx context.Context) {
	s.followMu.Lock()
	first := s.stopped.CompareAndSwap(false, true)
	s.followMu.Unlock()
	if !first {
		return
	}
	s.cancel()

	// The engine exits before answering, so an error here is expected.
	if err := s.exec(ctx, "nvim_command", func() error { return s.client.Command("qa!") }); err != nil {
		s.logger.Debug("quit: %v", err)
	}
	if err := s.client.Close(); err != nil {
		s.logger.Warn("close transport: %v", err)
	}

	s.followUps.Wait()
	s.logger.Info("stopped")
}
