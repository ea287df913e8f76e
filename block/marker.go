package block

import (
	"strings"
	"unicode"
)

// DefaultMarker is the sentinel token expected at the start of a block.
const DefaultMarker Marker = "@@FILE@@"

// Marker is the sentinel token that flags a block for submission. A block
// carries the marker when its text, after leading whitespace, starts with
// the token followed by at least one whitespace character and a filename.
type Marker string

// Parse returns the filename declared by the marker line of text.
// ok is false when the marker is missing, not followed by whitespace, or
// not followed by a filename on the same line.
func (m Marker) Parse(text string) (filename string, ok bool) {
	if m == "" {
		m = DefaultMarker
	}
	rest := strings.TrimLeftFunc(text, unicode.IsSpace)
	if !strings.HasPrefix(rest, string(m)) {
		return "", false
	}
	rest = rest[len(m):]

	trimmed := strings.TrimLeft(rest, " \t")
	if len(trimmed) == len(rest) {
		return "", false
	}

	line, _, _ := strings.Cut(trimmed, "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		line = line[:i]
	}
	return line, true
}

// Present reports whether text carries the marker.
func (m Marker) Present(text string) bool {
	_, ok := m.Parse(text)
	return ok
}
