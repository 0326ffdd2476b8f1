package session

import (
	"context"
	"fmt"

	"github.com/neovim/go-client/nvim"
)

// Client is the subset of the engine API the session uses. *nvim.Nvim
// implements it; tests substitute a fake.
type Client interface {
	RegisterHandler(method string, fn any) error
	APIInfo() ([]any, error)
	AttachUI(width, height int, options map[string]any) error
	Input(keys string) (int, error)
	Command(cmd string) error
	CurrentBuffer() (nvim.Buffer, error)
	CreateBuffer(listed, scratch bool) (nvim.Buffer, error)
	SetCurrentBuffer(buffer nvim.Buffer) error
	AttachBuffer(buffer nvim.Buffer, sendBuffer bool, opts map[string]any) (bool, error)
	DetachBuffer(buffer nvim.Buffer) (bool, error)
	BufferLines(buffer nvim.Buffer, start, end int, strict bool) ([][]byte, error)
	SetBufferLines(buffer nvim.Buffer, start, end int, strict bool, replacement [][]byte) error
	CurrentWindow() (nvim.Window, error)
	WindowCursor(window nvim.Window) ([2]int, error)
	SetWindowCursor(window nvim.Window, pos [2]int) error
	Mode() (*nvim.Mode, error)
	Call(fname string, result any, args ...any) error
	Close() error
}

var _ Client = (*nvim.Nvim)(nil)

// Embed starts the engine as a child process speaking msgpack-RPC on its
// standard streams and connects to it. The child outlives ctx; Stop
// terminates it.
func Embed(ctx context.Context, command string, args []string, listener Listener, opts Options) (*Session, error) {
	logger := opts.logger()
	if command == "" {
		command = "nvim"
	}

	v, err := nvim.NewChildProcess(
		nvim.ChildProcessContext(context.WithoutCancel(ctx)),
		nvim.ChildProcessCommand(command),
		nvim.ChildProcessArgs(append([]string{"--embed"}, args...)...),
		nvim.ChildProcessLogf(logger.Logf),
	)
	if err != nil {
		return nil, &ConnectError{Stage: "spawn", Err: fmt.Errorf("start %s: %w", command, err)}
	}
	return Connect(ctx, v, listener, opts)
}

// Dial connects to a running engine listening on address, either a Unix
// socket path or host:port.
func Dial(ctx context.Context, address string, listener Listener, opts Options) (*Session, error) {
	logger := opts.logger()

	v, err := nvim.Dial(address,
		nvim.DialContext(ctx),
		nvim.DialLogf(logger.Logf),
	)
	if err != nil {
		return nil, &ConnectError{Stage: "dial", Err: fmt.Errorf("dial %s: %w", address, err)}
	}
	return Connect(ctx, v, listener, opts)
}
