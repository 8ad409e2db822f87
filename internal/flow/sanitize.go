package flow

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxInputRunes caps inbound message length.
const MaxInputRunes = 4096

// Sanitize normalises inbound chat text: NFKC folding (full-width digits
// become ASCII), control characters dropped, whitespace collapsed and the
// result capped at MaxInputRunes.
func Sanitize(text string) string {
	text = norm.NFKC.String(text)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, text)
	out := strings.Join(strings.Fields(cleaned), " ")
	if r := []rune(out); len(r) > MaxInputRunes {
		out = strings.TrimSpace(string(r[:MaxInputRunes]))
	}
	return out
}
