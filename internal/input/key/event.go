package key

import "unicode/utf8"

// Event is a host key press.
type Event struct {
	// Key is the DOM-style key name, or the produced character for
	// printable keys.
	Key string

	// Mods is the set of modifiers held.
	Mods Modifier

	// Composing is true while an input method editor is mid-composition.
	Composing bool
}

// IsPrintable reports whether Key is a single character rather than a name.
func (e Event) IsPrintable() bool {
	return utf8.RuneCountInString(e.Key) == 1
}

// modifierKeys are key names reported when only a modifier is pressed.
var modifierKeys = map[string]bool{
	"Shift":    true,
	"Control":  true,
	"Alt":      true,
	"AltGraph": true,
	"Meta":     true,
	"OS":       true,
	"Super":    true,
	"Hyper":    true,
	"Fn":       true,
	"CapsLock": true,
	"NumLock":  true,
}

// IsModifierOnly reports whether the event is a bare modifier press.
func (e Event) IsModifierOnly() bool {
	return modifierKeys[e.Key]
}

// composingKeys are names browsers report for keys consumed by an IME.
var composingKeys = map[string]bool{
	"Process": true,
	"Dead":    true,
}

// unidentified is the DOM name for a key the platform could not name.
const unidentified = "Unidentified"
