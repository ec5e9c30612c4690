// Package classify labels how a historical conflict block was resolved.
package classify

import (
	"strings"
	"unicode"
)

// Deflate removes every whitespace character from s so that formatting-only
// differences compare equal.
func Deflate(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// DeflateLines joins lines with newlines and deflates the result.
func DeflateLines(lines []string) string {
	return Deflate(strings.Join(lines, "\n"))
}
