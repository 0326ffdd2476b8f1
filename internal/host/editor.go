// Package host defines the capabilities the bridge needs from the host text
// editor, plus an in-memory implementation.
//
// Positions are 0-based. Columns (Position.Ch) are measured in the host's
// own Unit; the engine's byte columns are converted before they reach an
// Editor.
package host

import (
	"fmt"
	"sync"
)

// Position is a line/column location in a host document.
type Position struct {
	Line int
	Ch   int
}

// String returns a human-readable representation of the position.
func (p Position) String() string {
	return fmt.Sprintf("(%d:%d)", p.Line, p.Ch)
}

// Compare returns -1 if p < other, 0 if p == other, 1 if p > other.
func (p Position) Compare(other Position) int {
	switch {
	case p.Line < other.Line:
		return -1
	case p.Line > other.Line:
		return 1
	case p.Ch < other.Ch:
		return -1
	case p.Ch > other.Ch:
		return 1
	}
	return 0
}

// Editor is the host document surface the bridge reads and mutates.
//
// ReplaceRange replaces the characters from `from` up to, but not including,
// `to`. When the two positions are on different lines the newlines between
// them are removed as well.
type Editor interface {
	Value() string
	SetValue(text string)
	Line(n int) string
	LineCount() int
	Cursor() Position
	SetCursor(pos Position)
	ReplaceRange(text string, from, to Position)
}

// Measured is implemented by editors that know their own column unit.
type Measured interface {
	Unit() Unit
}

// UnitOf returns the column unit of ed, or fallback when ed does not say.
func UnitOf(ed Editor, fallback Unit) Unit {
	if m, ok := ed.(Measured); ok {
		return m.Unit()
	}
	return fallback
}

// End returns the position just past the last character of ed.
func End(ed Editor, unit Unit) Position {
	last := max(ed.LineCount()-1, 0)
	return Position{Line: last, Ch: unit.Len(ed.Line(last))}
}

// Provider resolves the currently active editor. Callers re-resolve at the
// moment they mutate, never across a suspension point, because the user may
// switch documents in between.
type Provider interface {
	ActiveEditor() (Editor, bool)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() (Editor, bool)

// ActiveEditor implements Provider.
func (f ProviderFunc) ActiveEditor() (Editor, bool) { return f() }

// Active is a Provider whose editor can be swapped at runtime.
// It is safe for concurrent use.
type Active struct {
	mu     sync.RWMutex
	editor Editor
}

// NewActive returns an Active provider holding ed (which may be nil).
func NewActive(ed Editor) *Active {
	return &Active{editor: ed}
}

// Set replaces the active editor. Passing nil means no editor is active.
func (a *Active) Set(ed Editor) {
	a.mu.Lock()
	a.editor = ed
	a.mu.Unlock()
}

// ActiveEditor implements Provider.
func (a *Active) ActiveEditor() (Editor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.editor, a.editor != nil
}
