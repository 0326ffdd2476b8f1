// Package reconcile moves the host cursor to where the engine says it is
// and tracks the engine's mode.
package reconcile

import (
	"sync"

	"github.com/dshills/nvimbridge/internal/host"
	"github.com/dshills/nvimbridge/internal/logging"
	"github.com/dshills/nvimbridge/internal/session"
)

// Reconciler applies engine cursor positions to the active host editor.
// OnCursor must run on the event loop; the mode accessors are safe from
// any goroutine.
type Reconciler struct {
	editors host.Provider
	unit    host.Unit
	logger  *logging.Logger

	mu   sync.RWMutex
	mode string
}

// New creates a Reconciler. unit is the column unit assumed for editors
// that do not report their own.
func New(editors host.Provider, unit host.Unit, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Reconciler{
		editors: editors,
		unit:    unit,
		logger:  logger.WithComponent("reconcile"),
	}
}

// OnCursor moves the host cursor to pos. The line is clamped into the
// document, the engine's byte column is converted to the editor's unit and
// clamped into the line.
func (r *Reconciler) OnCursor(pos session.CursorPosition) {
	ed, ok := r.editors.ActiveEditor()
	if !ok {
		r.logger.Debug("no active editor for cursor %d:%d", pos.Line, pos.Column)
		return
	}
	ed.SetCursor(r.Convert(ed, pos))
}

// Convert maps an engine cursor position into ed's coordinates.
func (r *Reconciler) Convert(ed host.Editor, pos session.CursorPosition) host.Position {
	lastLine := max(ed.LineCount()-1, 0)
	line := max(0, min(pos.Line, lastLine))

	text := ed.Line(line)
	unit := host.UnitOf(ed, r.unit)
	ch := unit.FromBytes(text, pos.Column)
	ch = max(0, min(ch, unit.Len(text)))

	return host.Position{Line: line, Ch: ch}
}

// OnModeChange records the engine mode.
func (r *Reconciler) OnModeChange(mode string) {
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
}

// Mode returns the last recorded mode.
func (r *Reconciler) Mode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// InsertLike reports whether the last mode edits text as the user types:
// insert or replace.
func (r *Reconciler) InsertLike() bool {
	return IsInsertLike(r.Mode())
}

// IsInsertLike reports whether mode is an insert-like mode name. Both the
// redraw names ("insert", "replace") and the short get-mode codes ("i",
// "R", "ic", "Rv", ...) are accepted.
func IsInsertLike(mode string) bool {
	switch mode {
	case "insert", "replace":
		return true
	}
	return len(mode) > 0 && (mode[0] == 'i' || mode[0] == 'R') && len(mode) <= 3
}
