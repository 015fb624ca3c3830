// Package similarity implements the weighted text-similarity measure and the
// duplicate detector built on it. Everything here is pure and deterministic;
// no network I/O.
package similarity

import (
	"github.com/agext/levenshtein"
)

const (
	// levenshteinWindow bounds edit-distance computation to the first 500
	// runes of each input.
	levenshteinWindow = 500

	ngramSize = 3

	weightJaccard     = 0.4
	weightLevenshtein = 0.3
	weightNgram       = 0.3
)

// Score computes the weighted similarity of two raw strings in [0,1]:
// 0.4·Jaccard over word sets, 0.3·normalized Levenshtein over the first 500
// runes, 0.3·Jaccard over character 3-grams. Identical normalized strings
// short-circuit to 1.0.
func Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		if na == "" {
			return 0
		}
		return 1.0
	}
	if na == "" || nb == "" {
		return 0
	}

	jac := jaccard(WordSet(na), WordSet(nb))
	lev := levenshteinSimilarity(na, nb)
	tri := jaccard(ngrams(na, ngramSize), ngrams(nb, ngramSize))

	return weightJaccard*jac + weightLevenshtein*lev + weightNgram*tri
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func levenshteinSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 0
	}

	wa, wb := ra, rb
	if len(wa) > levenshteinWindow {
		wa = wa[:levenshteinWindow]
	}
	if len(wb) > levenshteinWindow {
		wb = wb[:levenshteinWindow]
	}

	dist := levenshtein.Distance(string(wa), string(wb), nil)
	sim := 1.0 - float64(dist)/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

func ngrams(s string, n int) map[string]struct{} {
	set := make(map[string]struct{})
	runes := []rune(s)
	if len(runes) < n {
		if len(runes) > 0 {
			set[string(runes)] = struct{}{}
		}
		return set
	}
	for i := 0; i+n <= len(runes); i++ {
		set[string(runes[i:i+n])] = struct{}{}
	}
	return set
}
