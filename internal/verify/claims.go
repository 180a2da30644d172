package verify

import (
	"regexp"
	"strings"

	"github.com/chadiek/voxrelay/internal/types"
)

// MinClaimLength discards extracted sentence fragments shorter than this
// many characters.
const MinClaimLength = 10

var hedgingPatterns = []string{
	"i think", "i believe", "probably", "might", "seems like", "i guess",
	"i suspect", "possibly", "in my opinion", "i'd say",
}

var currencySymbols = []string{"$", "€", "£", "¥"}
var largeNumberKeywords = []string{"million", "billion", "thousand", "hundred"}

var percentPattern = regexp.MustCompile(`\d+(\.\d+)?\s?(%|percent\b)`)
var currencyPattern = regexp.MustCompile(`\d+(\.\d+)?\s?(dollars|usd|eur|euros)\b`)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)
var datePattern = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}\b`)

var relativeTimeTokens = []string{
	"yesterday", "today", "tomorrow", "ago", "since", "last week", "last month",
	"last year", "next week", "next month", "next year",
}

var attributionCues = []string{
	"according to", "based on", "as stated in", "as reported by", "per the",
}

// safeGeneralKnowledgePatterns matches greetings, honest uncertainty, and
// self-description sentences that don't need corroboration.
var safeGeneralKnowledgePatterns = []string{
	"hello", "hi there", "how can i help", "how may i help",
	"i don't have that information", "i do not have that information",
	"i'm not sure", "i am not sure", "i don't know", "i am an ai",
	"i'm an ai", "i am a voice assistant", "i'm a voice assistant",
	"thank you", "you're welcome", "goodbye",
}

// classifySentence returns the ClaimType for a single extracted sentence.
// Opinion sentences are identified so callers can drop them entirely.
func classifySentence(s string) types.ClaimType {
	lower := strings.ToLower(s)

	for _, h := range hedgingPatterns {
		if strings.Contains(lower, h) {
			return types.ClaimOpinion
		}
	}
	if percentPattern.MatchString(lower) || currencyPattern.MatchString(lower) || containsAny(lower, currencySymbols) || containsAny(lower, largeNumberKeywords) {
		return types.ClaimNumerical
	}
	if yearPattern.MatchString(lower) || datePattern.MatchString(lower) || containsAny(lower, relativeTimeTokens) {
		return types.ClaimTemporal
	}
	if containsAny(lower, attributionCues) {
		return types.ClaimReference
	}
	return types.ClaimFactual
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// isSafeGeneralKnowledge reports whether a sentence is a greeting, an
// honest uncertainty statement, self-description, or a question — content
// that doesn't need corroboration against the context snapshot.
func isSafeGeneralKnowledge(sentence string, endedInQuestion bool) bool {
	if endedInQuestion {
		return true
	}
	lower := strings.ToLower(sentence)
	return containsAny(lower, safeGeneralKnowledgePatterns)
}

// extractedClaim pairs the classified sentence with whether it originally
// ended in '?', which safe-general-knowledge scoring needs but which
// extractClaims strips from the stored sentence.
type extractedClaim struct {
	Sentence        string
	Type            types.ClaimType
	EndedInQuestion bool
}

// extractClaims splits reply into sentences, classifies each, and drops
// opinion sentences entirely.
func extractClaims(reply string) []extractedClaim {
	var out []extractedClaim
	for _, raw := range rawSentencesWithTerminators(reply) {
		trimmed := strings.TrimSpace(raw)
		if len(strings.TrimRight(trimmed, ".!?")) < MinClaimLength {
			continue
		}
		endsInQuestion := strings.HasSuffix(trimmed, "?")
		sentence := strings.TrimRight(trimmed, ".!?")
		ct := classifySentence(sentence)
		if ct == types.ClaimOpinion {
			continue
		}
		out = append(out, extractedClaim{Sentence: sentence, Type: ct, EndedInQuestion: endsInQuestion})
	}
	return out
}

// rawSentencesWithTerminators splits reply on '.', '!', '?' and newline,
// keeping the terminator attached to each piece, so callers can tell
// whether a sentence ended in '?'.
func rawSentencesWithTerminators(reply string) []string {
	var out []string
	var b strings.Builder
	for _, r := range reply {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n':
			out = append(out, b.String())
			b.Reset()
		}
	}
	if tail := strings.TrimSpace(b.String()); tail != "" {
		out = append(out, tail)
	}
	return out
}
