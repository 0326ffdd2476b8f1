// Package key translates host key events into the engine's key notation.
//
// Host events use DOM-style key names: "a", "Escape", "ArrowLeft", "F5".
// The engine expects Vim notation:
//
//   - Plain printable keys pass through: "a", "%"
//   - Named keys are bracketed: "<Esc>", "<CR>", "<Left>", "<F5>"
//   - Modifiers prefix the name: "<C-a>", "<M-x>", "<C-M-Left>", "<S-Tab>"
//
// A few Ctrl chords are the terminal aliases the engine already knows:
// Ctrl+H is "<BS>", Ctrl+M is "<CR>" and Ctrl+[ is "<Esc>".
//
// Translate is pure. Events it declines (a bare modifier press, keys
// pressed while an input method is composing, unknown names) are left
// for the host to handle.
package key
