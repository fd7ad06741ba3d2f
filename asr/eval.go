package asr

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CharacterErrorRate is the edit distance between the normalised reference
// and hypothesis divided by the reference length in runes.
func CharacterErrorRate(reference, hypothesis string) float64 {
	ref, hyp := normalize(reference), normalize(hypothesis)
	n := utf8.RuneCountInString(ref)
	if n == 0 {
		if hyp == "" {
			return 0
		}
		return 1
	}
	return float64(levenshtein.ComputeDistance(ref, hyp)) / float64(n)
}
