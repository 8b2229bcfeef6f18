package fuzzy

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold canonicalises s for comparison: compatibility decomposition, removal
// of combining marks (so "café" folds like "cafe"), lower-casing, and
// replacement of every rune that is neither a letter nor a digit by a space.
// Whitespace runs collapse to a single space and the result is trimmed, so
// "What's  the TIME?" folds to "what s the time".
func Fold(s string) string {
	if s == "" {
		return ""
	}
	// transform.Chain keeps internal buffers, so it is built per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = norm.NFKC.String(s)
	}
	fields := strings.FieldsFunc(strings.ToLower(stripped), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}
