package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/voxrelay/internal/types"
)

// LLMVerifier is the optional "stronger mode" verifier: instead
// of scoring claims with weighted token overlap, it asks an LLM to judge the
// reply against the snapshot directly, and falls back to a rule-based
// Verifier on any request or decode failure so a verifier outage never
// blocks a turn.
type LLMVerifier struct {
	HTTPClient *http.Client
	Endpoint   string
	APIKey     string
	Model      string
	Fallback   *Verifier
}

// NewLLMVerifier constructs an LLMVerifier backed by fallback for any
// failure of the upstream call.
func NewLLMVerifier(endpoint, apiKey, model string, fallback *Verifier) *LLMVerifier {
	if fallback == nil {
		fallback = NewVerifier(DefaultVerifyThreshold)
	}
	return &LLMVerifier{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Endpoint:   endpoint,
		APIKey:     apiKey,
		Model:      model,
		Fallback:   fallback,
	}
}

// verificationRequest mirrors the wire shape a verification sidecar
// expects: the reply text, the snapshot's knowledge-base entries as claimed
// sources, and the snapshot's raw API data as context.
type verificationRequest struct {
	SessionID    string         `json:"session_id"`
	ResponseText string         `json:"response_text"`
	ClaimedSources []string     `json:"claimed_sources"`
	Context      map[string]any `json:"context,omitempty"`
}

type verificationCitation struct {
	Source   string `json:"source"`
	Verified bool   `json:"verified"`
	Snippet  string `json:"snippet"`
}

type verificationResult struct {
	Verified         bool                    `json:"verified"`
	Confidence       float64                 `json:"confidence"`
	Citations        []verificationCitation  `json:"citations"`
	Warnings         []string                `json:"warnings"`
	ModifiedResponse *string                 `json:"modified_response"`
}

// Verify calls the upstream verification endpoint, translating its result
// into a VerificationVerdict. On any failure it logs nothing itself (the
// caller owns logging) and silently falls back to rule-based scoring.
func (v *LLMVerifier) Verify(ctx context.Context, sessionID, reply string, snapshot types.ContextSnapshot) types.VerificationVerdict {
	result, err := v.callUpstream(ctx, sessionID, reply, snapshot)
	if err != nil {
		return v.Fallback.Verify(reply, snapshot)
	}

	verdict := types.VerificationVerdict{
		Verified:   result.Verified,
		Confidence: result.Confidence,
		Warnings:   result.Warnings,
	}
	for _, c := range result.Citations {
		verdict.Citations = append(verdict.Citations, types.Citation{
			Source:   c.Source,
			Verified: c.Verified,
			Snippet:  truncate(c.Snippet, types.MaxCitationSnippet),
		})
	}
	if result.ModifiedResponse != nil {
		verdict.Rewritten = *result.ModifiedResponse
	} else if !verdict.Verified {
		verdict.Rewritten = withDisclaimer(reply)
	}
	return verdict
}

func (v *LLMVerifier) callUpstream(ctx context.Context, sessionID, reply string, snapshot types.ContextSnapshot) (*verificationResult, error) {
	if v.Endpoint == "" {
		return nil, fmt.Errorf("llmverify: endpoint not configured")
	}

	sources := make([]string, 0, len(snapshot.KnowledgeBase))
	sources = append(sources, snapshot.KnowledgeBase...)

	body, err := json.Marshal(verificationRequest{
		SessionID:      sessionID,
		ResponseText:   reply,
		ClaimedSources: sources,
		Context:        snapshot.APIData,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.APIKey)
	}

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("llmverify: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var result verificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
