// Package session implements the process-wide session store and the
// conversation memory it carries: a map from session id to
// session, serialized per session id, with create/get/transition/interrupt/
// end/reap operations and an append-only conversation log that optionally
// write-throughs to a vector store.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chadiek/voxrelay/internal/types"
)

// VectorStore is the write-through port conversation memory calls
// asynchronously after each successful append. Failures are logged and
// never block the pipeline.
type VectorStore interface {
	Write(ctx context.Context, conversationID string, msg types.Message) error
}

// entry bundles a session with its conversation and the mutex that
// serializes every read/write against either.
type entry struct {
	mu           sync.Mutex
	session      types.Session
	conversation types.Conversation
}

// Store is the process-wide session map.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	vectorStore VectorStore
}

// NewStore constructs an empty Store. vectorStore may be nil, in which case
// conversation writes are not mirrored anywhere.
func NewStore(vectorStore VectorStore) *Store {
	return &Store{
		sessions:    make(map[string]*entry),
		vectorStore: vectorStore,
	}
}

// ErrNotFound is returned by operations on an unknown session id.
var ErrNotFound = fmt.Errorf("session: not found")

// Create mints a new session id and conversation id, inserts an empty
// conversation, and returns the new Session in state idle.
func (st *Store) Create(userID string) types.Session {
	now := time.Now()
	sess := types.Session{
		ID:             uuid.NewString(),
		ConversationID: uuid.NewString(),
		UserID:         userID,
		State:          types.SessionIdle,
		StartedAt:      now,
		LastActivityAt: now,
	}
	conv := types.Conversation{
		ID:        sess.ConversationID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	st.mu.Lock()
	st.sessions[sess.ID] = &entry{session: sess, conversation: conv}
	st.mu.Unlock()

	return sess
}

func (st *Store) lookup(sessionID string) *entry {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[sessionID]
}

// Get returns a copy of the current session state.
func (st *Store) Get(sessionID string) (types.Session, bool) {
	e := st.lookup(sessionID)
	if e == nil {
		return types.Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, true
}

// Conversation returns a copy of the session's conversation.
func (st *Store) Conversation(sessionID string) (types.Conversation, bool) {
	e := st.lookup(sessionID)
	if e == nil {
		return types.Conversation{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversation, true
}

// Transition sets the session's state and bumps last_activity_at.
func (st *Store) Transition(sessionID string, newState types.SessionState) error {
	e := st.lookup(sessionID)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.State = newState
	e.session.LastActivityAt = time.Now()
	return nil
}

// MintResponseID mints a fresh response id, stores it as the session's
// active_response_id, and returns it.
func (st *Store) MintResponseID(sessionID string) (types.ResponseID, error) {
	e := st.lookup(sessionID)
	if e == nil {
		return "", ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id := types.NewResponseID()
	e.session.ActiveResponseID = id
	return id, nil
}

// IsActiveResponse reports whether id is still the session's
// active_response_id — the pre-emit check every in-flight step must pass.
func (st *Store) IsActiveResponse(sessionID string, id types.ResponseID) bool {
	e := st.lookup(sessionID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.ActiveResponseID == id
}

// Interrupt transitions the session to interrupted only when it is
// currently processing or speaking, minting a fresh active_response_id so
// all in-flight work becomes obsolete. Returns false (idempotently) if the
// session was not in an interruptible state, including if it was already
// interrupted.
func (st *Store) Interrupt(sessionID string) bool {
	e := st.lookup(sessionID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.session.State {
	case types.SessionProcessing, types.SessionSpeaking:
		e.session.State = types.SessionInterrupted
		e.session.LastActivityAt = time.Now()
		e.session.ActiveResponseID = types.NewResponseID()
		return true
	default:
		return false
	}
}

// End removes the session from the store.
func (st *Store) End(sessionID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(st.sessions, sessionID)
	return nil
}

// Reap takes a global snapshot and ends every session whose
// last_activity_at is older than olderThan, returning the ended ids.
func (st *Store) Reap(olderThan time.Time) []string {
	st.mu.Lock()
	var ended []string
	for id, e := range st.sessions {
		e.mu.Lock()
		stale := e.session.LastActivityAt.Before(olderThan)
		e.mu.Unlock()
		if stale {
			ended = append(ended, id)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()
	return ended
}

// AppendMessage appends msg to the session's conversation in generation
// order and, if a vector store is configured, write-throughs the message
// asynchronously. The write-through failure is logged and never propagated
// to the caller.
func (st *Store) AppendMessage(sessionID string, msg types.Message) error {
	e := st.lookup(sessionID)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	e.conversation.Messages = append(e.conversation.Messages, msg)
	e.conversation.UpdatedAt = time.Now()
	conversationID := e.conversation.ID
	e.mu.Unlock()

	if st.vectorStore != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := st.vectorStore.Write(ctx, conversationID, msg); err != nil {
				log.Printf("session: vector store write-through failed conversation=%s: %v", conversationID, err)
			}
		}()
	}
	return nil
}
