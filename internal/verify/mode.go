package verify

import (
	"context"

	"github.com/chadiek/voxrelay/internal/types"
)

// Mode is the verification contract the pipeline engine drives: score a
// reply against a snapshot and return the aggregated verdict. Both the
// rule-based Verifier and the LLM-backed mode (wrapped below) satisfy it.
type Mode interface {
	Verify(reply string, snapshot types.ContextSnapshot) types.VerificationVerdict
}

// passthroughMode implements Mode without running the verification
// algorithm at all: every reply is trivially verified. This is what
// verify_enabled=false selects — replies bypass C3 entirely rather than
// running it and discarding the result.
type passthroughMode struct{}

func (passthroughMode) Verify(reply string, snapshot types.ContextSnapshot) types.VerificationVerdict {
	return types.VerificationVerdict{Verified: true, Confidence: 1.0}
}

// llmMode adapts LLMVerifier's (ctx, sessionID, reply, snapshot) signature
// to Mode, since the engine has no per-call sessionID to thread through a
// narrower interface — the session id is informational only on the wire
// request, not a correctness requirement of the verdict itself.
type llmMode struct {
	inner *LLMVerifier
}

func (m *llmMode) Verify(reply string, snapshot types.ContextSnapshot) types.VerificationVerdict {
	return m.inner.Verify(context.Background(), "", reply, snapshot)
}

// NewMode builds the configured verification Mode. If enabled is false,
// C3 is bypassed entirely regardless of mode, per the verify_enabled
// knob. Otherwise "llm" with a non-empty endpoint wraps an LLMVerifier
// (itself falling back to rule-based on any upstream failure); anything
// else, including "llm" without an endpoint and the empty string, is
// rule-based.
func NewMode(enabled bool, mode string, threshold float64, endpoint, apiKey, model string) Mode {
	if !enabled {
		return passthroughMode{}
	}
	fallback := NewVerifier(threshold)
	if mode != "llm" || endpoint == "" {
		return fallback
	}
	return &llmMode{inner: NewLLMVerifier(endpoint, apiKey, model, fallback)}
}
