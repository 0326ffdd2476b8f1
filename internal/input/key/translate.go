package key

import (
	"strconv"
	"strings"
	"unicode"
)

// namedKeys maps DOM key names to engine notation.
var namedKeys = map[string]string{
	"Escape":     "<Esc>",
	"Esc":        "<Esc>",
	"Enter":      "<CR>",
	"Backspace":  "<BS>",
	"Tab":        "<Tab>",
	"ArrowUp":    "<Up>",
	"ArrowDown":  "<Down>",
	"ArrowLeft":  "<Left>",
	"ArrowRight": "<Right>",
	"Up":         "<Up>",
	"Down":       "<Down>",
	"Left":       "<Left>",
	"Right":      "<Right>",
	"Home":       "<Home>",
	"End":        "<End>",
	"PageUp":     "<PageUp>",
	"PageDown":   "<PageDown>",
	"Insert":     "<Insert>",
	"Delete":     "<Del>",
	"Del":        "<Del>",
}

// ctrlNamedKeys are the named keys that have a dedicated Ctrl form.
var ctrlNamedKeys = map[string]string{
	"ArrowUp":    "<C-Up>",
	"ArrowDown":  "<C-Down>",
	"ArrowLeft":  "<C-Left>",
	"ArrowRight": "<C-Right>",
	"Home":       "<C-Home>",
	"End":        "<C-End>",
	"PageUp":     "<C-PageUp>",
	"PageDown":   "<C-PageDown>",
	"Backspace":  "<C-BS>",
	"Enter":      "<C-CR>",
	"Tab":        "<C-Tab>",
	"Delete":     "<C-Del>",
}

// Translate converts ev into engine key notation. It returns false when
// the event should not be forwarded.
//
// Modifier combinations are checked from most to least specific:
// Ctrl with Alt or Meta, then Ctrl, then Alt or Meta, then unmodified
// (Shift only matters for Tab).
func Translate(ev Event) (string, bool) {
	if ev.Composing || composingKeys[ev.Key] || ev.IsModifierOnly() || ev.Key == "" || ev.Key == unidentified {
		return "", false
	}

	switch {
	case ev.Mods.HasCtrl() && ev.Mods.HasAltOrMeta():
		return translateCtrlMeta(ev), true
	case ev.Mods.HasCtrl():
		return translateCtrl(ev), true
	case ev.Mods.HasAltOrMeta():
		return translateMeta(ev), true
	}
	return translatePlain(ev)
}

func translateCtrlMeta(ev Event) string {
	if ev.IsPrintable() {
		return "<C-M-" + charName(ev.Key) + ">"
	}
	return "<C-M-" + innerName(ev.Key) + ">"
}

func translateCtrl(ev Event) string {
	if ev.IsPrintable() {
		r := []rune(ev.Key)[0]
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			switch lower := strings.ToLower(ev.Key); lower {
			case "h":
				return "<BS>"
			case "m":
				return "<CR>"
			default:
				return "<C-" + lower + ">"
			}
		}
		if ev.Key == "[" {
			return "<Esc>"
		}
		return "<C-" + charName(ev.Key) + ">"
	}
	if s, ok := ctrlNamedKeys[ev.Key]; ok {
		return s
	}
	return "<C-" + innerName(ev.Key) + ">"
}

func translateMeta(ev Event) string {
	if ev.IsPrintable() {
		return "<M-" + charName(ev.Key) + ">"
	}
	if ev.Key == "Tab" && ev.Mods.HasShift() {
		return "<M-S-Tab>"
	}
	return "<M-" + innerName(ev.Key) + ">"
}

func translatePlain(ev Event) (string, bool) {
	if ev.Key == "Tab" && ev.Mods.HasShift() {
		return "<S-Tab>", true
	}
	if s, ok := namedKeys[ev.Key]; ok {
		return s, true
	}
	if n, ok := functionKey(ev.Key); ok {
		return "<F" + strconv.Itoa(n) + ">", true
	}
	if ev.IsPrintable() {
		if ev.Key == "<" {
			return "<lt>", true
		}
		if unicode.IsPrint([]rune(ev.Key)[0]) {
			return ev.Key, true
		}
	}
	return "", false
}

// innerName returns the bracket contents for a named key, so "ArrowLeft"
// becomes "Left" and "F3" stays "F3". Unknown names pass through.
func innerName(name string) string {
	if s, ok := namedKeys[name]; ok {
		return strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	}
	return name
}

// charName returns a single character as it may appear inside brackets.
func charName(ch string) string {
	switch ch {
	case "<":
		return "lt"
	case " ":
		return "Space"
	case "|":
		return "Bar"
	}
	return ch
}

// functionKey parses F1 through F24.
func functionKey(name string) (int, bool) {
	if len(name) < 2 || name[0] != 'F' {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 1 || n > 24 || name[1] == '0' {
		return 0, false
	}
	return n, true
}
