// Package normalize provides the canonical comparison-key transform used for
// alias storage keys and embedding cache keys. Callers must renormalize on
// every lookup rather than trusting a passed-in key, because a change to the
// transform invalidates cache and index semantics.
package normalize

import (
	"strings"
	"unicode"
)

// Normalize maps a raw mention or name string to its canonical comparison key:
// lower-cased, any run of non-alphanumeric characters collapsed to a single
// space, leading and trailing whitespace trimmed.
//
// Normalize is pure, total, and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	pendingSpace := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		} else {
			pendingSpace = true
		}
	}

	return b.String()
}

// TitleCase is the deterministic fallback canonical display form for a raw
// mention, used when the LLM canonical-form extraction is unavailable or
// returns an implausible result. It upper-cases the first letter of each
// whitespace-separated token and lower-cases the rest.
func TitleCase(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		runes := []rune(strings.ToLower(f))
		runes[0] = unicode.ToUpper(runes[0])
		fields[i] = string(runes)
	}
	return strings.Join(fields, " ")
}
