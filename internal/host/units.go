package host

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Unit is the measure a host editor uses for column offsets.
// The engine always reports byte columns; the reconciler converts them.
type Unit int

const (
	// UnitBytes counts UTF-8 bytes, the engine's own convention.
	UnitBytes Unit = iota
	// UnitCodepoints counts Unicode scalar values.
	UnitCodepoints
	// UnitUTF16 counts UTF-16 code units, as browser-based editors do.
	UnitUTF16
	// UnitGraphemes counts user-perceived characters.
	UnitGraphemes
)

// String returns the configuration name of the unit.
func (u Unit) String() string {
	switch u {
	case UnitBytes:
		return "bytes"
	case UnitCodepoints:
		return "codepoints"
	case UnitUTF16:
		return "utf16"
	case UnitGraphemes:
		return "graphemes"
	default:
		return fmt.Sprintf("Unit(%d)", int(u))
	}
}

// ParseUnit parses a unit name as produced by String.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bytes", "byte":
		return UnitBytes, nil
	case "codepoints", "runes":
		return UnitCodepoints, nil
	case "utf16", "utf-16":
		return UnitUTF16, nil
	case "graphemes":
		return UnitGraphemes, nil
	}
	return UnitBytes, fmt.Errorf("unknown column unit %q", s)
}

// Len returns the length of line in this unit.
func (u Unit) Len(line string) int {
	switch u {
	case UnitCodepoints:
		return utf8.RuneCountInString(line)
	case UnitUTF16:
		return utf16Len(line)
	case UnitGraphemes:
		return uniseg.GraphemeClusterCount(line)
	default:
		return len(line)
	}
}

// FromBytes converts a byte offset within line into this unit.
// Offsets are clamped to the line, and an offset inside a multi-byte
// sequence counts as the character it falls in.
func (u Unit) FromBytes(line string, b int) int {
	if b <= 0 {
		return 0
	}
	if b >= len(line) {
		return u.Len(line)
	}
	switch u {
	case UnitCodepoints:
		return utf8.RuneCountInString(line[:b])
	case UnitUTF16:
		n := 0
		for i, r := range line {
			if i >= b {
				break
			}
			n += runeUTF16Len(r)
		}
		return n
	case UnitGraphemes:
		n := 0
		g := uniseg.NewGraphemes(line)
		for g.Next() {
			from, _ := g.Positions()
			if from >= b {
				break
			}
			n++
		}
		return n
	default:
		return b
	}
}

// ToBytes converts an offset in this unit into a byte offset within line.
// Offsets are clamped to the line.
func (u Unit) ToBytes(line string, n int) int {
	if n <= 0 {
		return 0
	}
	switch u {
	case UnitCodepoints:
		count := 0
		for i := range line {
			if count == n {
				return i
			}
			count++
		}
		return len(line)
	case UnitUTF16:
		count := 0
		for i, r := range line {
			if count >= n {
				return i
			}
			count += runeUTF16Len(r)
		}
		return len(line)
	case UnitGraphemes:
		count := 0
		g := uniseg.NewGraphemes(line)
		for g.Next() {
			if count == n {
				from, _ := g.Positions()
				return from
			}
			count++
		}
		return len(line)
	default:
		if n > len(line) {
			return len(line)
		}
		return n
	}
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUTF16Len(r)
	}
	return n
}

func runeUTF16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}
