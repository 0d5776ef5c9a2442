package fts

import (
	"strings"
	"unicode"
)

// tokenize lower-cases text and splits it on anything that is not a
// letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// forward calls fn for every indexed term of token: the token itself and,
// unless strict, each of its prefixes down to minPrefix runes.
func forward(token string, minPrefix int, strict bool, fn func(term string)) {
	fn(token)
	if strict {
		return
	}
	runes := []rune(token)
	for n := len(runes) - 1; n >= minPrefix; n-- {
		fn(string(runes[:n]))
	}
}
