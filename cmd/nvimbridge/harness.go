package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/dshills/nvimbridge/internal/bridge"
	"github.com/dshills/nvimbridge/internal/host"
	"github.com/dshills/nvimbridge/internal/input/key"
	"github.com/dshills/nvimbridge/internal/reconcile"
	"github.com/dshills/nvimbridge/internal/session"
)

var errQuit = errors.New("quit")

// harness draws the document and feeds terminal keys to the bridge.
type harness struct {
	screen tcell.Screen
	doc    *host.Document
	unit   host.Unit
	bridge *bridge.Bridge

	redraw    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	cmdline session.CmdlineEvent
	status  string
}

func newHarness(unit host.Unit) (*harness, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("init screen: %w", err)
	}
	screen.EnablePaste()

	h := &harness{
		screen: screen,
		unit:   unit,
		redraw: make(chan struct{}, 1),
		cmdline: session.CmdlineEvent{
			Kind: session.CmdlineHidden,
		},
	}
	h.doc = host.NewDocument("", host.WithUnit(unit), host.WithChangeHook(h.requestDraw))
	return h, nil
}

func (h *harness) close() {
	h.closeOnce.Do(h.screen.Fini)
}

func (h *harness) requestDraw() {
	select {
	case h.redraw <- struct{}{}:
	default:
	}
}

// OnCmdline implements bridge.CmdlineObserver.
func (h *harness) OnCmdline(ev session.CmdlineEvent) {
	h.mu.Lock()
	switch ev.Kind {
	case session.MenuShown, session.MenuSelected, session.MenuHidden:
		// The status line has no room for a menu; keep the command text.
	default:
		h.cmdline = ev
	}
	h.mu.Unlock()
	h.requestDraw()
}

func (h *harness) setStatus(format string, args ...any) {
	h.mu.Lock()
	h.status = fmt.Sprintf(format, args...)
	h.mu.Unlock()
	h.requestDraw()
}

func (h *harness) pollEvents(ctx context.Context) error {
	for {
		ev := h.screen.PollEvent()
		if ev == nil {
			return nil
		}
		switch ev := ev.(type) {
		case *tcell.EventResize:
			h.screen.Sync()
			h.requestDraw()

		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyF10:
				return errQuit
			case tcell.KeyF5:
				h.setStatus("reconnecting")
				if err := h.bridge.Reconnect(ctx); err != nil {
					h.setStatus("reconnect failed: %v", err)
				} else {
					h.setStatus("")
				}
				continue
			}
			h.bridge.HandleKey(ctx, key.FromTcell(ev))
		}
	}
}

func (h *harness) drawLoop(ctx context.Context) error {
	h.draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.redraw:
			h.draw()
		}
	}
}

func (h *harness) draw() {
	width, height := h.screen.Size()
	if height < 2 {
		return
	}
	h.screen.Clear()

	lines := h.doc.Lines()
	cursor := h.doc.Cursor()
	textRows := height - 1

	top := 0
	if cursor.Line >= textRows {
		top = cursor.Line - textRows + 1
	}
	for row := 0; row < textRows && top+row < len(lines); row++ {
		drawText(h.screen, 0, row, width, lines[top+row], tcell.StyleDefault)
	}

	status, statusCursor := h.statusLine()
	drawText(h.screen, 0, height-1, width, status, tcell.StyleDefault.Reverse(true))

	if statusCursor >= 0 {
		h.screen.ShowCursor(statusCursor, height-1)
	} else if cursor.Line >= top && cursor.Line < len(lines) {
		col := displayColumn(lines[cursor.Line], cursor.Ch, h.unit)
		h.screen.ShowCursor(col, cursor.Line-top)
	}
	h.screen.Show()
}

// statusLine returns the bottom line and, while a command line is
// open, the screen column of its cursor (otherwise -1).
func (h *harness) statusLine() (string, int) {
	h.mu.Lock()
	cmd, status := h.cmdline, h.status
	h.mu.Unlock()

	if cmd.Kind == session.CmdlineShown || cmd.Kind == session.CmdlineMoved {
		prefix := cmd.FirstChar + cmd.Prompt
		line := prefix + cmd.Content
		return line, runewidth.StringWidth(prefix) + displayColumn(cmd.Content, cmd.Pos, host.UnitBytes)
	}

	mode := h.bridge.Mode()
	if status == "" {
		stats := h.bridge.Stats()
		status = fmt.Sprintf("keys %d  avg %v", stats.Metrics.KeysSent, stats.Metrics.AvgInput())
	}
	return fmt.Sprintf(" %s  %s", modeLabel(mode), status), -1
}

func modeLabel(mode string) string {
	switch {
	case mode == "":
		return "-"
	case mode == "replace" || strings.HasPrefix(mode, "R"):
		return "REPLACE"
	case reconcile.IsInsertLike(mode):
		return "INSERT"
	case mode == "normal" || mode == "n":
		return "NORMAL"
	case mode == "visual" || mode == "v" || mode == "V":
		return "VISUAL"
	case mode == "cmdline_normal" || mode == "c":
		return "COMMAND"
	}
	return strings.ToUpper(mode)
}

// displayColumn converts ch, measured in unit, to terminal cells.
func displayColumn(line string, ch int, unit host.Unit) int {
	return runewidth.StringWidth(line[:unit.ToBytes(line, ch)])
}

func drawText(s tcell.Screen, x, y, width int, text string, style tcell.Style) {
	for _, r := range text {
		if x >= width {
			return
		}
		w := runewidth.RuneWidth(r)
		if w == 0 {
			continue
		}
		s.SetContent(x, y, r, nil, style)
		x += w
	}
	for ; x < width; x++ {
		s.SetContent(x, y, ' ', nil, style)
	}
}
