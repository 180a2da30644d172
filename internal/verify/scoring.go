package verify

import (
	"regexp"
	"strings"
)

// KeyTerms are tokens weighted double in the scoring formula.
var KeyTerms = map[string]struct{}{
	"error": {}, "issue": {}, "bug": {}, "version": {}, "update": {},
	"status": {}, "count": {}, "total": {}, "name": {}, "id": {},
}

var nonWord = regexp.MustCompile(`[^\w\s]`)

// tokenize lowercases, strips punctuation, splits on whitespace, and drops
// tokens of length <= 2.
func tokenize(s string) map[string]struct{} {
	cleaned := nonWord.ReplaceAllString(strings.ToLower(s), " ")
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) > 2 {
			out[tok] = struct{}{}
		}
	}
	return out
}

func weight(tok string) float64 {
	if _, ok := KeyTerms[tok]; ok {
		return 2
	}
	return 1
}

// weightedSimilarity scores a claim's token set against a snippet's token
// set: the numerator sums per-token weight over the intersection, the
// denominator is the unweighted union size (|Q| + |C| - |Q∩C|).
func weightedSimilarity(claim, snippetText string) float64 {
	q := tokenize(claim)
	c := tokenize(snippetText)
	if len(q) == 0 || len(c) == 0 {
		return 0
	}

	var intersection float64
	overlap := 0
	for tok := range q {
		if _, ok := c[tok]; ok {
			intersection += weight(tok)
			overlap++
		}
	}

	denom := float64(len(q) + len(c) - overlap)
	if denom <= 0 {
		return 0
	}
	return intersection / denom
}

// bestMatch scores claim against every snippet and returns the highest
// similarity and its source. Returns ("", 0) if snippets is empty.
func bestMatch(claim string, snippets []snippet) (source string, sim float64) {
	for _, s := range snippets {
		if score := weightedSimilarity(claim, s.Text); score > sim {
			sim = score
			source = s.Source
		}
	}
	return source, sim
}
