package textutil

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// namePolicy strips every HTML element and attribute; provider-supplied
// strings are rendered in client UIs and query params and must carry no markup.
var namePolicy = bluemonday.StrictPolicy()

// spaceRegex collapses runs of whitespace left behind by tag removal
var spaceRegex = regexp.MustCompile(`\s+`)

// CleanName sanitizes a display name or nickname received from an identity
// provider or a caller. HTML is removed, whitespace is collapsed, and the
// result is trimmed. Returns "" when nothing printable survives.
func CleanName(s string) string {
	s = namePolicy.Sanitize(s)
	// The policy entity-escapes its output; names are stored as plain text
	s = html.UnescapeString(s)
	s = spaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CleanNameWithLimit sanitizes like CleanName and additionally truncates the
// result to at most limit runes. Truncation happens after sanitization so a
// cut cannot reopen markup.
func CleanNameWithLimit(s string, limit int) string {
	s = CleanName(s)
	if limit <= 0 {
		return s
	}

	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit]))
}
