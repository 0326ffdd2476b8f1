package key

import "strings"

// Modifier is the set of modifier keys held during a key event.
type Modifier uint8

const (
	// ModNone indicates no modifiers.
	ModNone Modifier = 0

	// ModShift indicates the Shift key.
	ModShift Modifier = 1 << iota

	// ModCtrl indicates the Control key.
	ModCtrl

	// ModAlt indicates the Alt key (Option on macOS).
	ModAlt

	// ModMeta indicates the Meta key (Cmd on macOS, Win on Windows).
	ModMeta
)

// Has reports whether m contains mod.
func (m Modifier) Has(mod Modifier) bool {
	return m&mod != 0
}

// HasShift reports whether Shift is held.
func (m Modifier) HasShift() bool { return m.Has(ModShift) }

// HasCtrl reports whether Control is held.
func (m Modifier) HasCtrl() bool { return m.Has(ModCtrl) }

// HasAltOrMeta reports whether Alt or Meta is held. The engine treats both
// as its M- modifier.
func (m Modifier) HasAltOrMeta() bool { return m.Has(ModAlt | ModMeta) }

// String returns a human-readable form like "Ctrl+Alt".
func (m Modifier) String() string {
	if m == ModNone {
		return ""
	}

	var parts []string
	if m.HasCtrl() {
		parts = append(parts, "Ctrl")
	}
	if m.Has(ModAlt) {
		parts = append(parts, "Alt")
	}
	if m.HasShift() {
		parts = append(parts, "Shift")
	}
	if m.Has(ModMeta) {
		parts = append(parts, "Meta")
	}
	return strings.Join(parts, "+")
}
