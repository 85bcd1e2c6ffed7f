// Package textx provides small text utilities used across the project.
package textx

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// SanitizeMessage strips markup and control characters from user input and
// caps it at maxChars runes. maxChars <= 0 means no cap.
func SanitizeMessage(s string, maxChars int) string {
	// bluemonday escapes entities; the text is never rendered as HTML so undo that.
	s = html.UnescapeString(strict.Sanitize(s))
	s = SanitizeText(s)
	return Truncate(s, maxChars)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
