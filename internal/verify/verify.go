// Package verify implements the claim-verification engine: it extracts
// factual claims from a generated reply, scores each against a
// flattened ContextSnapshot using a weighted token-overlap metric, and
// aggregates the per-claim verdicts into a VerificationVerdict, rewriting
// the reply with a disclaimer when confidence falls below threshold.
package verify

import (
	"fmt"
	"strings"

	"github.com/chadiek/voxrelay/internal/types"
)

// MatchThreshold is the minimum weighted similarity for a claim to be
// considered corroborated by a snapshot snippet.
const MatchThreshold = 0.5

// SafeGeneralKnowledgeConfidence is the confidence assigned to claims that
// match the safe-general-knowledge fallback (greetings, honest uncertainty,
// self-description, questions) rather than a snapshot snippet.
const SafeGeneralKnowledgeConfidence = 0.7

// UnverifiedConfidence is the confidence assigned to a claim that neither
// matches a snippet above MatchThreshold nor the safe-general-knowledge
// fallback.
const UnverifiedConfidence = 0.2

// DefaultVerifyThreshold is τ_verify: the minimum fraction of verified
// claims for the overall reply to be considered verified.
const DefaultVerifyThreshold = 0.6

const warningTruncateLen = 50

// Verifier runs the rule-based verification algorithm over a reply.
type Verifier struct {
	Threshold float64
}

// NewVerifier constructs a Verifier, defaulting Threshold to
// DefaultVerifyThreshold when unset.
func NewVerifier(threshold float64) *Verifier {
	if threshold <= 0 {
		threshold = DefaultVerifyThreshold
	}
	return &Verifier{Threshold: threshold}
}

// Verify scores reply against snapshot and returns the aggregated verdict.
// A reply with no surviving (non-opinion, long-enough) claims is trivially
// verified with confidence 1.0 — there's nothing to corroborate.
func (v *Verifier) Verify(reply string, snapshot types.ContextSnapshot) types.VerificationVerdict {
	extracted := extractClaims(reply)
	if len(extracted) == 0 {
		return types.VerificationVerdict{Verified: true, Confidence: 1.0}
	}

	snippets := flattenSnapshot(snapshot)

	claims := make([]types.Claim, 0, len(extracted))
	for _, ec := range extracted {
		claims = append(claims, scoreClaim(ec, snippets))
	}

	return aggregate(reply, claims, v.Threshold)
}

// scoreClaim scores one extracted claim against the flattened snippets,
// falling back to the safe-general-knowledge pattern before giving up.
func scoreClaim(ec extractedClaim, snippets []snippet) types.Claim {
	source, sim := bestMatch(ec.Sentence, snippets)
	if sim >= MatchThreshold {
		return types.Claim{
			Sentence:   ec.Sentence,
			Type:       ec.Type,
			Verified:   true,
			Confidence: sim,
			Source:     source,
		}
	}

	if isSafeGeneralKnowledge(ec.Sentence, ec.EndedInQuestion) {
		return types.Claim{
			Sentence:   ec.Sentence,
			Type:       ec.Type,
			Verified:   true,
			Confidence: SafeGeneralKnowledgeConfidence,
			Source:     "general_knowledge",
		}
	}

	return types.Claim{
		Sentence:   ec.Sentence,
		Type:       ec.Type,
		Verified:   false,
		Confidence: UnverifiedConfidence,
	}
}

// aggregate rolls per-claim verdicts into a VerificationVerdict: overall
// confidence is the verified fraction, citations are deduped by source over
// verified claims, warnings name each unverified claim (truncated), and an
// unverified reply gets a rewrite with a disclaimer appended.
func aggregate(reply string, claims []types.Claim, threshold float64) types.VerificationVerdict {
	verifiedCount := 0
	seenSources := make(map[string]struct{})
	var citations []types.Citation
	var warnings []string

	for _, c := range claims {
		if c.Verified {
			verifiedCount++
			if c.Source != "" {
				if _, seen := seenSources[c.Source]; !seen {
					seenSources[c.Source] = struct{}{}
					citations = append(citations, types.Citation{
						Source:    c.Source,
						Verified:  true,
						Snippet:   truncate(c.Sentence, types.MaxCitationSnippet),
						ClaimType: c.Type,
					})
				}
			}
		} else {
			warnings = append(warnings, truncate(c.Sentence, warningTruncateLen))
		}
	}

	overall := float64(verifiedCount) / float64(len(claims))
	verdict := types.VerificationVerdict{
		Verified:   overall >= threshold,
		Confidence: overall,
		Claims:     claims,
		Citations:  citations,
		Warnings:   warnings,
	}

	if !verdict.Verified {
		verdict.Rewritten = withDisclaimer(reply)
	}

	return verdict
}

// withDisclaimer appends a spoken disclaimer to reply noting that some
// content couldn't be corroborated against current data — the caveat closes
// the response rather than leading it, so synthesized speech ends on it.
func withDisclaimer(reply string) string {
	return fmt.Sprintf("%s I want to flag that I couldn't fully verify some of this against current data.", reply)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}
