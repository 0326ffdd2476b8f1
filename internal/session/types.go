package session

import "github.com/neovim/go-client/nvim"

// Buffer identifies an engine-side buffer. Zero means the current buffer.
type Buffer = nvim.Buffer

// CursorPosition is a 0-based cursor location. Column is a byte offset
// into the line, as the engine reports it.
type CursorPosition struct {
	Line   int
	Column int
}

// LineChangeEvent describes an incremental buffer change: lines
// [FirstLine, LastLine) were replaced by Lines.
//
// FirstLine == LastLine is a pure insertion and an empty Lines is a pure
// deletion. LastLine is -1 on the initial full-buffer send, meaning the
// end of the buffer.
type LineChangeEvent struct {
	Buffer     Buffer
	ChangeTick int64
	FirstLine  int
	LastLine   int
	Lines      []string
	More       bool
}

// CmdlineKind discriminates CmdlineEvent.
type CmdlineKind int

const (
	CmdlineShown CmdlineKind = iota
	CmdlineMoved
	CmdlineHidden
	MenuShown
	MenuSelected
	MenuHidden
)

func (k CmdlineKind) String() string {
	switch k {
	case CmdlineShown:
		return "cmdline_show"
	case CmdlineMoved:
		return "cmdline_pos"
	case CmdlineHidden:
		return "cmdline_hide"
	case MenuShown:
		return "popupmenu_show"
	case MenuSelected:
		return "popupmenu_select"
	case MenuHidden:
		return "popupmenu_hide"
	default:
		return "unknown"
	}
}

// CmdlineEvent is a command-line or completion-menu state change.
// Only the fields relevant to Kind are set.
type CmdlineEvent struct {
	Kind      CmdlineKind
	Content   string
	Pos       int
	FirstChar string
	Prompt    string
	Level     int
	Items     []MenuItem
	Selected  int
}

// MenuItem is one completion-menu entry.
type MenuItem struct {
	Word string
	Kind string
	Menu string
	Info string
}

// Listener receives decoded engine events. It is passed to Connect so no
// notification can arrive before it exists.
type Listener interface {
	OnModeChange(mode string)
	OnCursor(pos CursorPosition)
	OnLines(ev LineChangeEvent)
	OnCmdline(ev CmdlineEvent)
	// OnRedraw runs once after every redraw batch has been dispatched.
	OnRedraw()
}

// NopListener ignores every event. Embed it to implement part of Listener.
type NopListener struct{}

func (NopListener) OnModeChange(string)     {}
func (NopListener) OnCursor(CursorPosition) {}
func (NopListener) OnLines(LineChangeEvent) {}
func (NopListener) OnCmdline(CmdlineEvent)  {}
func (NopListener) OnRedraw()               {}
