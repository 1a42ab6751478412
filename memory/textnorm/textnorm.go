// Package textnorm folds text for comparison: lowercase, accents removed,
// punctuation collapsed to single spaces.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns s lowercased, without diacritics, with every run of
// non-alphanumeric characters replaced by one space and trimmed.
// "¿Usa  Python?" and "usa python" fold to the same string.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// Tokens returns the folded words of s.
func Tokens(s string) []string {
	return strings.Fields(Fold(s))
}

// Jaccard returns |A∩B| / |A∪B| over the token sets of a and b.
// Two empty texts are identical (1).
func Jaccard(a, b string) float64 {
	setA := toSet(Tokens(a))
	setB := toSet(Tokens(b))
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// negations are folded tokens that flip the meaning of a statement.
// Contractions like "don't" fold to "don t", hence "t".
var negations = map[string]struct{}{
	"no": {}, "ni": {}, "nunca": {}, "jamas": {}, "sin": {}, "tampoco": {},
	"nada": {}, "ningun": {}, "ninguno": {}, "ninguna": {},
	"not": {}, "never": {}, "without": {}, "none": {}, "nor": {}, "t": {},
}

// SamePolarity reports whether a and b carry the same negation words.
// "Tiene una vulnerabilidad" and "No tiene una vulnerabilidad" do not.
func SamePolarity(a, b string) bool {
	negA := negationSet(a)
	negB := negationSet(b)
	if len(negA) != len(negB) {
		return false
	}
	for tok := range negA {
		if _, ok := negB[tok]; !ok {
			return false
		}
	}
	return true
}

func negationSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokens(s) {
		if _, ok := negations[tok]; ok {
			set[tok] = struct{}{}
		}
	}
	return set
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Truncate shortens s to at most maxRunes runes, marking the cut with "...".
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}
