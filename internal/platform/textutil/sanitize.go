package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup from free text typed by customers or staff (gift messages, delivery
// notes, timeline notes), collapses runs of whitespace and truncates to limit runes. A limit of
// zero or less disables truncation. Line breaks survive so card messages keep their layout.
func SanitizeText(value string, limit int) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))

	var b strings.Builder
	b.Grow(len(cleaned))
	count := 0
	pendingSpace := false
	for _, r := range cleaned {
		switch {
		case r == '\n':
			b.WriteRune('\n')
			pendingSpace = false
			count++
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		case unicode.IsControl(r):
			continue
		default:
			if pendingSpace {
				b.WriteRune(' ')
				count++
				pendingSpace = false
			}
			b.WriteRune(r)
			count++
		}
		if limit > 0 && count >= limit {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// SanitizeLine is SanitizeText for single-line fields such as names and cities.
func SanitizeLine(value string, limit int) string {
	return strings.ReplaceAll(SanitizeText(strings.ReplaceAll(value, "\n", " "), limit), "\n", " ")
}
