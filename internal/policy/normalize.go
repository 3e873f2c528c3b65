package policy

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize folds compatibility forms (fullwidth letters, ligatures) and case
// so that denylist substrings match obfuscated variants.
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// MatchWords returns every normalized word of words contained in text.
func MatchWords(text string, words []string) []string {
	normalized := Normalize(text)
	var matches []string
	for _, word := range words {
		if word != "" && strings.Contains(normalized, word) {
			matches = append(matches, word)
		}
	}
	return matches
}
