// Package types holds the data model shared across the pipeline engine:
// sessions, conversations, messages, citations, claims, and the context
// snapshot handed to the generator and verifier for one turn.
package types

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is one of the states a Session can occupy.
type SessionState string

const (
	SessionIdle        SessionState = "idle"
	SessionListening   SessionState = "listening"
	SessionProcessing  SessionState = "processing"
	SessionSpeaking    SessionState = "speaking"
	SessionInterrupted SessionState = "interrupted"
)

// ResponseID identifies one turn's generation. A fresh id is minted every
// time the engine begins generating a reply; artifacts carrying a stale id
// are obsolete and must be dropped.
type ResponseID string

// NewResponseID mints a fresh response id.
func NewResponseID() ResponseID {
	return ResponseID(uuid.NewString())
}

// Session is the durable per-connection record the pipeline engine mutates
// one turn at a time.
type Session struct {
	ID               string
	ConversationID   string
	UserID           string
	State            SessionState
	StartedAt        time.Time
	LastActivityAt   time.Time
	ActiveResponseID ResponseID
}

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Citation backs a claim in an assistant Message with a source.
type Citation struct {
	Source     string
	Verified   bool
	Snippet    string
	ClaimType  ClaimType
}

// MaxCitationSnippet is the character cap applied to Citation.Snippet.
const MaxCitationSnippet = 200

// Message is one turn of a Conversation.
type Message struct {
	ID        string
	Role      Role
	Text      string
	CreatedAt time.Time
	Citations []Citation
}

// NewMessage constructs a Message with a fresh id and timestamp.
func NewMessage(role Role, text string, citations []Citation) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
		Citations: citations,
	}
}

// Conversation is an append-only sequence of Messages, shared 1:1 with a
// Session during that session's lifetime but able to outlive it.
type Conversation struct {
	ID        string
	UserID    string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClaimType classifies an extracted claim sentence.
type ClaimType string

const (
	ClaimFactual   ClaimType = "factual"
	ClaimNumerical ClaimType = "numerical"
	ClaimTemporal  ClaimType = "temporal"
	ClaimReference ClaimType = "reference"
	ClaimOpinion   ClaimType = "opinion"
)

// Claim is a single factual sentence extracted from a reply, judged against
// a ContextSnapshot by the verifier.
type Claim struct {
	Sentence   string
	Type       ClaimType
	Verified   bool
	Confidence float64
	Source     string
}

// ContextSnapshot is the immutable map of external data made available to
// the generator and verifier for one invocation.
type ContextSnapshot struct {
	// APIData holds arbitrary JSON-like values keyed by opaque label, as
	// returned by the context provider.
	APIData map[string]any
	// RecentConversation is an optional slice of recent messages folded
	// into the snapshot for scoring against conversational claims.
	RecentConversation []Message
	// KnowledgeBase holds optional free-text knowledge-base strings.
	KnowledgeBase []string
}

// VerificationVerdict is the outcome of running the verification engine
// over one reply.
type VerificationVerdict struct {
	Verified   bool
	Confidence float64
	Claims     []Claim
	Citations  []Citation
	Warnings   []string
	Rewritten  string // empty when Verified is true and no rewrite was needed
}
