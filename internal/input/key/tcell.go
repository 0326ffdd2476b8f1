package key

import (
	"strconv"

	"github.com/gdamore/tcell/v2"
)

// tcellNamed maps tcell's special keys to DOM key names.
var tcellNamed = map[tcell.Key]string{
	tcell.KeyEscape:     "Escape",
	tcell.KeyEnter:      "Enter",
	tcell.KeyTab:        "Tab",
	tcell.KeyBackspace:  "Backspace",
	tcell.KeyBackspace2: "Backspace",
	tcell.KeyDelete:     "Delete",
	tcell.KeyInsert:     "Insert",
	tcell.KeyHome:       "Home",
	tcell.KeyEnd:        "End",
	tcell.KeyPgUp:       "PageUp",
	tcell.KeyPgDn:       "PageDown",
	tcell.KeyUp:         "ArrowUp",
	tcell.KeyDown:       "ArrowDown",
	tcell.KeyLeft:       "ArrowLeft",
	tcell.KeyRight:      "ArrowRight",
}

// FromTcell converts a terminal key event into a host Event.
// Terminals cannot report a bare modifier press or IME composition, so
// those fields are never set.
func FromTcell(ev *tcell.EventKey) Event {
	mods := convertMod(ev.Modifiers())
	k := ev.Key()

	if k == tcell.KeyRune {
		return Event{Key: string(ev.Rune()), Mods: mods}
	}
	if k == tcell.KeyBacktab {
		return Event{Key: "Tab", Mods: mods | ModShift}
	}
	if name, ok := tcellNamed[k]; ok {
		return Event{Key: name, Mods: mods}
	}
	if k >= tcell.KeyCtrlA && k <= tcell.KeyCtrlZ {
		return Event{Key: string(rune('a' + (k - tcell.KeyCtrlA))), Mods: mods | ModCtrl}
	}
	if k == tcell.KeyCtrlSpace {
		return Event{Key: " ", Mods: mods | ModCtrl}
	}
	if k >= tcell.KeyF1 && k <= tcell.KeyF64 {
		return Event{Key: "F" + strconv.Itoa(int(k-tcell.KeyF1)+1), Mods: mods}
	}
	return Event{Key: unidentified, Mods: mods}
}

func convertMod(m tcell.ModMask) Modifier {
	var mod Modifier
	if m&tcell.ModShift != 0 {
		mod |= ModShift
	}
	if m&tcell.ModCtrl != 0 {
		mod |= ModCtrl
	}
	if m&tcell.ModAlt != 0 {
		mod |= ModAlt
	}
	if m&tcell.ModMeta != 0 {
		mod |= ModMeta
	}
	return mod
}
