package pipeline

import (
	"context"

	"github.com/chadiek/voxrelay/internal/types"
)

// ContextProvider sources the ContextSnapshot handed to the generator and
// verifier for one turn. The default implementation
// folds the session's recent conversation in directly and leaves APIData/
// KnowledgeBase for callers that wire a vector store or live API cache.
type ContextProvider interface {
	Snapshot(ctx context.Context, sessionID string) types.ContextSnapshot
}

// KnowledgeSearcher is the subset of vectorstore.Client a ContextProvider
// needs to enrich a snapshot with semantically retrieved context.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]string, error)
}

// conversationReader is the subset of session.Store a ContextProvider
// needs to read recent turns.
type conversationReader interface {
	Conversation(sessionID string) (types.Conversation, bool)
}

// defaultContextProvider folds recent conversation history in directly and
// optionally enriches it with a semantic search against a knowledge
// searcher, keyed by the most recent user message.
type defaultContextProvider struct {
	conversations conversationReader
	searcher      KnowledgeSearcher
	recentTurns   int
}

// NewContextProvider constructs the default ContextProvider. searcher may
// be nil, in which case the snapshot carries conversation history only.
func NewContextProvider(conversations conversationReader, searcher KnowledgeSearcher) ContextProvider {
	return &defaultContextProvider{conversations: conversations, searcher: searcher, recentTurns: 20}
}

func (p *defaultContextProvider) Snapshot(ctx context.Context, sessionID string) types.ContextSnapshot {
	snap := types.ContextSnapshot{}

	conv, ok := p.conversations.Conversation(sessionID)
	if !ok {
		return snap
	}

	msgs := conv.Messages
	if len(msgs) > p.recentTurns {
		msgs = msgs[len(msgs)-p.recentTurns:]
	}
	snap.RecentConversation = msgs

	if p.searcher == nil || len(msgs) == 0 {
		return snap
	}

	lastUser := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			lastUser = msgs[i].Text
			break
		}
	}
	if lastUser == "" {
		return snap
	}

	if results, err := p.searcher.Search(ctx, lastUser, 5); err == nil {
		snap.KnowledgeBase = results
	}
	return snap
}
