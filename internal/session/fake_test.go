package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neovim/go-client/nvim"
)

// fakeClient is an in-memory engine for session tests.
type fakeClient struct {
	mu       sync.Mutex
	handlers map[string]any
	calls    []string

	apiInfo     []any
	apiErr      error
	attachUIErr error
	uiWidth     int
	uiHeight    int
	uiOptions   map[string]any

	inputs     []string
	inputBlock chan struct{}
	commands   []string
	commandErr map[string]error

	lines   map[nvim.Buffer][]string
	current nvim.Buffer
	nextBuf nvim.Buffer

	attachRefuse bool
	attachErr    error
	detachErr    error
	attachCalls  []nvim.Buffer

	cursor    [2]int
	cursorErr error
	mode      string
	closed    bool
	closeErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		handlers:   make(map[string]any),
		commandErr: make(map[string]error),
		lines:      map[nvim.Buffer][]string{1: {""}},
		current:    1,
		nextBuf:    2,
		cursor:     [2]int{1, 0},
		mode:       "n",
	}
}

func (f *fakeClient) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeClient) RegisterHandler(method string, fn any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RegisterHandler:" + method)
	f.handlers[method] = fn
	return nil
}

func (f *fakeClient) APIInfo() ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("APIInfo")
	return f.apiInfo, f.apiErr
}

func (f *fakeClient) AttachUI(width, height int, options map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AttachUI")
	f.uiWidth, f.uiHeight, f.uiOptions = width, height, options
	return f.attachUIErr
}

func (f *fakeClient) Input(keys string) (int, error) {
	f.mu.Lock()
	block := f.inputBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Input")
	f.inputs = append(f.inputs, keys)
	return len(keys), nil
}

func (f *fakeClient) Command(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Command")
	f.commands = append(f.commands, cmd)
	return f.commandErr[cmd]
}

func (f *fakeClient) CurrentBuffer() (nvim.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CurrentBuffer")
	return f.current, nil
}

func (f *fakeClient) CreateBuffer(listed, scratch bool) (nvim.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateBuffer")
	b := f.nextBuf
	f.nextBuf++
	f.lines[b] = []string{""}
	return b, nil
}

func (f *fakeClient) SetCurrentBuffer(buffer nvim.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetCurrentBuffer")
	f.current = buffer
	return nil
}

func (f *fakeClient) AttachBuffer(buffer nvim.Buffer, sendBuffer bool, opts map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AttachBuffer")
	f.attachCalls = append(f.attachCalls, buffer)
	if f.attachErr != nil {
		return false, f.attachErr
	}
	return !f.attachRefuse, nil
}

func (f *fakeClient) DetachBuffer(buffer nvim.Buffer) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DetachBuffer")
	return f.detachErr == nil, f.detachErr
}

func (f *fakeClient) resolve(b nvim.Buffer) nvim.Buffer {
	if b == 0 {
		return f.current
	}
	return b
}

func (f *fakeClient) BufferLines(buffer nvim.Buffer, start, end int, strict bool) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("BufferLines")
	lines, ok := f.lines[f.resolve(buffer)]
	if !ok {
		return nil, fmt.Errorf("invalid buffer %d", buffer)
	}
	out := make([][]byte, len(lines))
	for i, l := range lines {
		out[i] = []byte(l)
	}
	return out, nil
}

func (f *fakeClient) SetBufferLines(buffer nvim.Buffer, start, end int, strict bool, replacement [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetBufferLines")
	lines := make([]string, len(replacement))
	for i, l := range replacement {
		lines[i] = string(l)
	}
	f.lines[f.resolve(buffer)] = lines
	return nil
}

func (f *fakeClient) CurrentWindow() (nvim.Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CurrentWindow")
	return 1000, nil
}

func (f *fakeClient) WindowCursor(window nvim.Window) ([2]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("WindowCursor")
	return f.cursor, f.cursorErr
}

func (f *fakeClient) SetWindowCursor(window nvim.Window, pos [2]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetWindowCursor")
	f.cursor = pos
	return nil
}

func (f *fakeClient) Mode() (*nvim.Mode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Mode")
	return &nvim.Mode{Mode: f.mode}, nil
}

func (f *fakeClient) Call(fname string, result any, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Call:" + fname)
	if fname != "fnameescape" || len(args) != 1 {
		return errors.New("unexpected call")
	}
	path, _ := args[0].(string)
	if p, ok := result.(*string); ok {
		*p = strings.ReplaceAll(path, " ", `\ `)
	}
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Close")
	f.closed = true
	return f.closeErr
}

// fire delivers a notification through the registered handler, as the
// transport goroutine would.
func (f *fakeClient) fire(method string, args ...any) {
	f.mu.Lock()
	h := f.handlers[method]
	f.mu.Unlock()

	switch fn := h.(type) {
	case func(...[]any):
		updates := make([][]any, len(args))
		for i, a := range args {
			updates[i] = a.([]any)
		}
		fn(updates...)
	case func(...any):
		fn(args...)
	default:
		panic("no handler for " + method)
	}
}

func (f *fakeClient) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// recorder is a Listener that keeps everything it receives.
type recorder struct {
	mu       sync.Mutex
	modes    []string
	cursors  []CursorPosition
	lines    []LineChangeEvent
	cmdlines []CmdlineEvent
	redraws  int
	cursorCh chan CursorPosition
}

func newRecorder() *recorder {
	return &recorder{cursorCh: make(chan CursorPosition, 16)}
}

func (r *recorder) OnModeChange(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, mode)
}

func (r *recorder) OnCursor(pos CursorPosition) {
	r.mu.Lock()
	r.cursors = append(r.cursors, pos)
	r.mu.Unlock()
	r.cursorCh <- pos
}

func (r *recorder) OnLines(ev LineChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, ev)
}

func (r *recorder) OnCmdline(ev CmdlineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmdlines = append(r.cmdlines, ev)
}

func (r *recorder) OnRedraw() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redraws++
}

func (r *recorder) waitCursor(d time.Duration) (CursorPosition, bool) {
	select {
	case pos := <-r.cursorCh:
		return pos, true
	case <-time.After(d):
		return CursorPosition{}, false
	}
}
