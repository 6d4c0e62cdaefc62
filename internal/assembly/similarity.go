package assembly

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenSet map[string]struct{}

// tokenize lowercases text and keeps word tokens longer than two characters.
func tokenize(text string) tokenSet {
	set := tokenSet{}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 2 {
			set[f] = struct{}{}
		}
	}
	return set
}

// jaccard returns |A∩B| / |A∪B|, or 0 when both sets are empty.
func jaccard(a, b tokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity is the token Jaccard similarity of two texts.
func Similarity(a, b string) float64 {
	return jaccard(tokenize(a), tokenize(b))
}
