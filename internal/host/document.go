package host

import (
	"strings"
	"sync"
)

// Document is an in-memory Editor. It backs the terminal harness and the
// package tests. All methods are thread-safe.
type Document struct {
	mu       sync.RWMutex
	lines    []string
	cursor   Position
	unit     Unit
	revision uint64
	onChange func()
}

// DocumentOption configures a Document.
type DocumentOption func(*Document)

// WithUnit sets the column unit used by Position.Ch. Default is UnitCodepoints.
func WithUnit(u Unit) DocumentOption {
	return func(d *Document) {
		d.unit = u
	}
}

// WithChangeHook registers fn to run after every content or cursor change.
// fn runs without the document lock held.
func WithChangeHook(fn func()) DocumentOption {
	return func(d *Document) {
		d.onChange = fn
	}
}

// NewDocument creates a document holding text.
func NewDocument(text string, opts ...DocumentOption) *Document {
	d := &Document{
		lines: splitLines(text),
		unit:  UnitCodepoints,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// Unit returns the column unit of the document.
func (d *Document) Unit() Unit {
	return d.unit
}

// Value returns the full document text.
func (d *Document) Value() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return strings.Join(d.lines, "\n")
}

// SetValue replaces the whole document. The cursor is clamped into the new text.
func (d *Document) SetValue(text string) {
	d.mu.Lock()
	d.lines = splitLines(text)
	d.cursor = d.clampLocked(d.cursor)
	d.revision++
	d.mu.Unlock()
	d.changed()
}

// Line returns line n without its newline, or "" when out of range.
func (d *Document) Line(n int) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n < 0 || n >= len(d.lines) {
		return ""
	}
	return d.lines[n]
}

// Lines returns a copy of every line.
func (d *Document) Lines() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.lines))
	copy(out, d.lines)
	return out
}

// LineCount returns the number of lines. An empty document has one line.
func (d *Document) LineCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lines)
}

// Cursor returns the cursor position.
func (d *Document) Cursor() Position {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cursor
}

// SetCursor moves the cursor, clamping it into the document.
func (d *Document) SetCursor(pos Position) {
	d.mu.Lock()
	d.cursor = d.clampLocked(pos)
	d.mu.Unlock()
	d.changed()
}

// Revision counts content mutations. Each ReplaceRange or SetValue is one
// undoable step.
func (d *Document) Revision() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.revision
}

// ReplaceRange replaces [from, to) with text. Positions are clamped and
// swapped if reversed. The cursor is clamped into the result.
func (d *Document) ReplaceRange(text string, from, to Position) {
	d.mu.Lock()
	from = d.clampLocked(from)
	to = d.clampLocked(to)
	if to.Compare(from) < 0 {
		from, to = to, from
	}

	startLine := d.lines[from.Line]
	endLine := d.lines[to.Line]
	prefix := startLine[:d.unit.ToBytes(startLine, from.Ch)]
	suffix := endLine[d.unit.ToBytes(endLine, to.Ch):]

	replacement := splitLines(prefix + text + suffix)

	lines := make([]string, 0, len(d.lines)-(to.Line-from.Line+1)+len(replacement))
	lines = append(lines, d.lines[:from.Line]...)
	lines = append(lines, replacement...)
	lines = append(lines, d.lines[to.Line+1:]...)
	d.lines = lines

	d.cursor = d.clampLocked(d.cursor)
	d.revision++
	d.mu.Unlock()
	d.changed()
}

// End returns the position just past the last character.
func (d *Document) End() Position {
	d.mu.RLock()
	defer d.mu.RUnlock()
	last := len(d.lines) - 1
	return Position{Line: last, Ch: d.unit.Len(d.lines[last])}
}

func (d *Document) clampLocked(p Position) Position {
	if p.Line < 0 {
		p.Line = 0
	}
	if p.Line >= len(d.lines) {
		p.Line = len(d.lines) - 1
	}
	if p.Ch < 0 {
		p.Ch = 0
	}
	if n := d.unit.Len(d.lines[p.Line]); p.Ch > n {
		p.Ch = n
	}
	return p
}

func (d *Document) changed() {
	if d.onChange != nil {
		d.onChange()
	}
}
