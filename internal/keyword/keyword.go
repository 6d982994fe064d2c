// Package keyword matches titles against keyword lists on word boundaries.
package keyword

import (
	"strings"
	"unicode"
)

// plural endings accepted after a keyword ("exam" -> "exams", "clase" -> "clases")
var pluralSuffixes = []string{"", "s", "es"}

// Tokens lower-cases text and splits it on anything that is not a letter
// or digit.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Match reports whether any token equals one of the keywords, optionally
// followed by a plural ending. Keywords must be lower-case single words.
func Match(tokens []string, keywords []string) bool {
	for _, tok := range tokens {
		for _, kw := range keywords {
			rest, ok := strings.CutPrefix(tok, kw)
			if !ok {
				continue
			}
			for _, suf := range pluralSuffixes {
				if rest == suf {
					return true
				}
			}
		}
	}
	return false
}
