package session

import (
	"fmt"

	"github.com/neovim/go-client/nvim"
)

// Notification method names.
const (
	MethodRedraw         = "redraw"
	MethodBufLines       = "nvim_buf_lines_event"
	MethodBufDetach      = "nvim_buf_detach_event"
	MethodBufChangedTick = "nvim_buf_changedtick_event"
)

// Notification is a decoded engine notification. The concrete type is one
// of Redraw, BufLines, BufDetach, BufChangedTick or Unknown.
type Notification interface {
	notification()
}

// Redraw is a batched UI update.
type Redraw struct {
	Ops []Op
}

// BufLines carries an incremental buffer change.
type BufLines struct {
	Event LineChangeEvent
}

// BufDetach reports that the engine stopped sending changes for Buffer.
type BufDetach struct {
	Buffer Buffer
}

// BufChangedTick reports a changedtick bump with no text change.
type BufChangedTick struct {
	Buffer Buffer
	Tick   int64
}

// Unknown is any notification the session does not consume.
type Unknown struct {
	Method string
}

func (Redraw) notification()         {}
func (BufLines) notification()       {}
func (BufDetach) notification()      {}
func (BufChangedTick) notification() {}
func (Unknown) notification()        {}

// Op is one operation inside a redraw batch. The concrete type is one of
// ModeChange, CursorGoto, CmdlineShow, CmdlinePos, CmdlineHide,
// PopupmenuShow, PopupmenuSelect, PopupmenuHide, Flush or IgnoredOp.
type Op interface {
	op()
}

// ModeChange is the mode_change op.
type ModeChange struct {
	Mode  string
	Index int
}

// CursorGoto is the grid_cursor_goto op. Row and Col are screen cells, not
// buffer coordinates.
type CursorGoto struct {
	Grid int
	Row  int
	Col  int
}

// CmdlineShow is the cmdline_show op.
type CmdlineShow struct {
	Content   string
	Pos       int
	FirstChar string
	Prompt    string
	Indent    int
	Level     int
}

// CmdlinePos is the cmdline_pos op.
type CmdlinePos struct {
	Pos   int
	Level int
}

// CmdlineHide is the cmdline_hide op.
type CmdlineHide struct {
	Level int
}

// PopupmenuShow is the popupmenu_show op.
type PopupmenuShow struct {
	Items    []MenuItem
	Selected int
	Row      int
	Col      int
	Grid     int
}

// PopupmenuSelect is the popupmenu_select op.
type PopupmenuSelect struct {
	Selected int
}

// PopupmenuHide is the popupmenu_hide op.
type PopupmenuHide struct{}

// Flush marks the end of a consistent screen update.
type Flush struct{}

// IgnoredOp is any redraw op the session does not interpret.
type IgnoredOp struct {
	Name string
}

func (ModeChange) op()      {}
func (CursorGoto) op()      {}
func (CmdlineShow) op()     {}
func (CmdlinePos) op()      {}
func (CmdlineHide) op()     {}
func (PopupmenuShow) op()   {}
func (PopupmenuSelect) op() {}
func (PopupmenuHide) op()   {}
func (Flush) op()           {}
func (IgnoredOp) op()       {}

// Decode converts a raw notification into its typed form. Payloads with an
// unexpected shape yield an error wrapping ErrMalformed and no partial
// result.
func Decode(method string, args []any) (Notification, error) {
	switch method {
	case MethodRedraw:
		return decodeRedraw(args)
	case MethodBufLines:
		return decodeBufLines(args)
	case MethodBufDetach:
		if len(args) < 1 {
			return nil, malformed(method, "want 1 argument, got %d", len(args))
		}
		buf, ok := toBuffer(args[0])
		if !ok {
			return nil, malformed(method, "buffer is %T", args[0])
		}
		return BufDetach{Buffer: buf}, nil
	case MethodBufChangedTick:
		if len(args) < 2 {
			return nil, malformed(method, "want 2 arguments, got %d", len(args))
		}
		buf, ok := toBuffer(args[0])
		if !ok {
			return nil, malformed(method, "buffer is %T", args[0])
		}
		tick, ok := toInt(args[1])
		if !ok {
			return nil, malformed(method, "changedtick is %T", args[1])
		}
		return BufChangedTick{Buffer: buf, Tick: tick}, nil
	default:
		return Unknown{Method: method}, nil
	}
}

func decodeBufLines(args []any) (Notification, error) {
	const method = MethodBufLines
	if len(args) < 6 {
		return nil, malformed(method, "want 6 arguments, got %d", len(args))
	}

	buf, ok := toBuffer(args[0])
	if !ok {
		return nil, malformed(method, "buffer is %T", args[0])
	}

	// changedtick is nil when the change did not bump it.
	var tick int64
	if args[1] != nil {
		if tick, ok = toInt(args[1]); !ok {
			return nil, malformed(method, "changedtick is %T", args[1])
		}
	}

	first, ok := toInt(args[2])
	if !ok {
		return nil, malformed(method, "firstline is %T", args[2])
	}
	last, ok := toInt(args[3])
	if !ok {
		return nil, malformed(method, "lastline is %T", args[3])
	}
	if first < 0 || (last >= 0 && last < first) {
		return nil, malformed(method, "bad range [%d, %d)", first, last)
	}

	lines, ok := toStrings(args[4])
	if !ok {
		return nil, malformed(method, "linedata is %T", args[4])
	}
	more, _ := args[5].(bool)

	return BufLines{Event: LineChangeEvent{
		Buffer:     buf,
		ChangeTick: tick,
		FirstLine:  int(first),
		LastLine:   int(last),
		Lines:      lines,
		More:       more,
	}}, nil
}

func decodeRedraw(args []any) (Notification, error) {
	var ops []Op
	for i, raw := range args {
		batch, ok := raw.([]any)
		if !ok || len(batch) == 0 {
			return nil, malformed(MethodRedraw, "batch %d is %T", i, raw)
		}
		name, ok := toString(batch[0])
		if !ok {
			return nil, malformed(MethodRedraw, "batch %d name is %T", i, batch[0])
		}

		decode, known := opDecoders[name]
		if !known {
			ops = append(ops, IgnoredOp{Name: name})
			continue
		}
		if len(batch) == 1 {
			// Some ops, flush for one, may arrive without an argument tuple.
			batch = []any{batch[0], []any{}}
		}
		for _, rawTuple := range batch[1:] {
			tuple, ok := rawTuple.([]any)
			if !ok {
				return nil, malformed(MethodRedraw, "%s arguments are %T", name, rawTuple)
			}
			op, err := decode(tuple)
			if err != nil {
				return nil, malformed(MethodRedraw, "%s: %v", name, err)
			}
			ops = append(ops, op)
		}
	}
	return Redraw{Ops: ops}, nil
}

type opDecoder func(args []any) (Op, error)

var opDecoders = map[string]opDecoder{
	"mode_change": func(a []any) (Op, error) {
		t := tuple(a)
		mode := t.text(0)
		idx := t.integer(1)
		if t.err != nil {
			return nil, t.err
		}
		return ModeChange{Mode: mode, Index: idx}, nil
	},
	"grid_cursor_goto": func(a []any) (Op, error) {
		t := tuple(a)
		op := CursorGoto{Grid: t.integer(0), Row: t.integer(1), Col: t.integer(2)}
		return op, t.err
	},
	"cmdline_show": func(a []any) (Op, error) {
		t := tuple(a)
		op := CmdlineShow{
			Content:   t.chunks(0),
			Pos:       t.integer(1),
			FirstChar: t.text(2),
			Prompt:    t.text(3),
			Indent:    t.integer(4),
			Level:     t.integer(5),
		}
		return op, t.err
	},
	"cmdline_pos": func(a []any) (Op, error) {
		t := tuple(a)
		op := CmdlinePos{Pos: t.integer(0), Level: t.integer(1)}
		return op, t.err
	},
	"cmdline_hide": func(a []any) (Op, error) {
		// Older engines send no level.
		t := tuple(a)
		op := CmdlineHide{Level: t.optInteger(0)}
		return op, t.err
	},
	"popupmenu_show": func(a []any) (Op, error) {
		t := tuple(a)
		op := PopupmenuShow{
			Items:    t.menuItems(0),
			Selected: t.integer(1),
			Row:      t.integer(2),
			Col:      t.integer(3),
			Grid:     t.optInteger(4),
		}
		return op, t.err
	},
	"popupmenu_select": func(a []any) (Op, error) {
		t := tuple(a)
		op := PopupmenuSelect{Selected: t.integer(0)}
		return op, t.err
	},
	"popupmenu_hide": func([]any) (Op, error) {
		return PopupmenuHide{}, nil
	},
	"flush": func([]any) (Op, error) {
		return Flush{}, nil
	},
}

// argTuple reads positional op arguments, keeping the first error.
type argTuple struct {
	args []any
	err  error
}

func tuple(args []any) *argTuple {
	return &argTuple{args: args}
}

func (t *argTuple) fail(i int, want string) {
	if t.err != nil {
		return
	}
	if i >= len(t.args) {
		t.err = malformedArg(i, "missing "+want)
		return
	}
	t.err = malformedArg(i, want+" expected")
}

func (t *argTuple) integer(i int) int {
	if i < len(t.args) {
		if n, ok := toInt(t.args[i]); ok {
			return int(n)
		}
	}
	t.fail(i, "integer")
	return 0
}

func (t *argTuple) optInteger(i int) int {
	if i >= len(t.args) {
		return 0
	}
	return t.integer(i)
}

func (t *argTuple) text(i int) string {
	if i < len(t.args) {
		if s, ok := toString(t.args[i]); ok {
			return s
		}
	}
	t.fail(i, "string")
	return ""
}

// chunks joins a highlighted text list: [[attr, text], ...].
func (t *argTuple) chunks(i int) string {
	if i >= len(t.args) {
		t.fail(i, "chunk list")
		return ""
	}
	list, ok := t.args[i].([]any)
	if !ok {
		t.fail(i, "chunk list")
		return ""
	}
	var out []byte
	for _, c := range list {
		chunk, ok := c.([]any)
		if !ok || len(chunk) < 2 {
			t.fail(i, "chunk list")
			return ""
		}
		s, ok := toString(chunk[1])
		if !ok {
			t.fail(i, "chunk list")
			return ""
		}
		out = append(out, s...)
	}
	return string(out)
}

func (t *argTuple) menuItems(i int) []MenuItem {
	if i >= len(t.args) {
		t.fail(i, "item list")
		return nil
	}
	list, ok := t.args[i].([]any)
	if !ok {
		t.fail(i, "item list")
		return nil
	}
	items := make([]MenuItem, 0, len(list))
	for _, raw := range list {
		fields, ok := raw.([]any)
		if !ok || len(fields) < 4 {
			t.fail(i, "item list")
			return nil
		}
		var s [4]string
		for j := range s {
			if s[j], ok = toString(fields[j]); !ok {
				t.fail(i, "item list")
				return nil
			}
		}
		items = append(items, MenuItem{Word: s[0], Kind: s[1], Menu: s[2], Info: s[3]})
	}
	return items
}

func malformedArg(i int, msg string) error {
	return fmt.Errorf("argument %d: %s", i, msg)
}

// toInt accepts every integer type the msgpack decoder may produce.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint:
		return int64(n), true
	default:
		return 0, false
	}
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

func toStrings(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := toString(item)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	case nil:
		return []string{}, true
	default:
		return nil, false
	}
}

func toBuffer(v any) (Buffer, bool) {
	if b, ok := v.(nvim.Buffer); ok {
		return b, true
	}
	if n, ok := toInt(v); ok {
		return Buffer(n), true
	}
	return 0, false
}
