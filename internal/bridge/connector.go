package bridge

import (
	"context"

	"github.com/dshills/nvimbridge/internal/config"
	"github.com/dshills/nvimbridge/internal/logging"
	"github.com/dshills/nvimbridge/internal/session"
)

// Engine is the part of a live session the bridge drives.
type Engine interface {
	ID() string
	Mode() string
	SendInput(ctx context.Context, keys string) (int, error)
	BufferText(ctx context.Context, buf session.Buffer) (string, error)
	Cursor(ctx context.Context) (session.CursorPosition, error)
	AttachedBuffer() (session.Buffer, bool)
	DetachBuffer(ctx context.Context, buf session.Buffer) error
	CreateOrLoadBuffer(ctx context.Context, path string, initialText *string) (session.Buffer, error)
	Stop(ctx context.Context)
}

var _ Engine = (*session.Session)(nil)

// Connector opens a session whose notifications go to listener.
type Connector interface {
	Connect(ctx context.Context, listener session.Listener) (Engine, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, listener session.Listener) (Engine, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, listener session.Listener) (Engine, error) {
	return f(ctx, listener)
}

// EngineConnector embeds a child engine, or dials one when Address is set.
type EngineConnector struct {
	Config config.EngineConfig
	Logger *logging.Logger
}

// Connect implements Connector.
func (c EngineConnector) Connect(ctx context.Context, listener session.Listener) (Engine, error) {
	opts := session.Options{
		Width:       c.Config.Width,
		Height:      c.Config.Height,
		CallTimeout: c.Config.CallTimeout.Std(),
		Logger:      c.Logger,
	}

	var (
		s   *session.Session
		err error
	)
	if c.Config.Address != "" {
		s, err = session.Dial(ctx, c.Config.Address, listener, opts)
	} else {
		s, err = session.Embed(ctx, c.Config.Command, c.Config.Args, listener, opts)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
