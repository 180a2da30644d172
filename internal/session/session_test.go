package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voxrelay/internal/types"
)

type fakeVectorStore struct {
	mu      sync.Mutex
	writes  int
	lastErr error
}

func (f *fakeVectorStore) Write(ctx context.Context, conversationID string, msg types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return f.lastErr
}

func (f *fakeVectorStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func TestCreate_StartsIdle(t *testing.T) {
	st := NewStore(nil)
	sess := st.Create("user-1")

	assert.Equal(t, types.SessionIdle, sess.State)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, sess.ConversationID)

	got, ok := st.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)
}

func TestTransition_UpdatesStateAndActivity(t *testing.T) {
	st := NewStore(nil)
	sess := st.Create("user-1")

	before, _ := st.Get(sess.ID)
	time.Sleep(time.Millisecond)
	require.NoError(t, st.Transition(sess.ID, types.SessionListening))

	after, _ := st.Get(sess.ID)
	assert.Equal(t, types.SessionListening, after.State)
	assert.True(t, after.LastActivityAt.After(before.LastActivityAt))
}

func TestInterrupt_OnlyFromProcessingOrSpeaking(t *testing.T) {
	st := NewStore(nil)
	sess := st.Create("user-1")

	assert.False(t, st.Interrupt(sess.ID), "idle session is not interruptible")

	require.NoError(t, st.Transition(sess.ID, types.SessionProcessing))
	assert.True(t, st.Interrupt(sess.ID))

	got, _ := st.Get(sess.ID)
	assert.Equal(t, types.SessionInterrupted, got.State)

	assert.False(t, st.Interrupt(sess.ID), "already-interrupted is idempotently false")
}

func TestInterrupt_MintsFreshResponseID(t *testing.T) {
	st := NewStore(nil)
	sess := st.Create("user-1")
	require.NoError(t, st.Transition(sess.ID, types.SessionSpeaking))

	id, err := st.MintResponseID(sess.ID)
	require.NoError(t, err)
	require.True(t, st.IsActiveResponse(sess.ID, id))

	require.True(t, st.Interrupt(sess.ID))
	assert.False(t, st.IsActiveResponse(sess.ID, id), "interrupt must obsolete the prior response id")
}

func TestEnd_RemovesSession(t *testing.T) {
	st := NewStore(nil)
	sess := st.Create("user-1")
	require.NoError(t, st.End(sess.ID))

	_, ok := st.Get(sess.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, st.End(sess.ID), ErrNotFound)
}

func TestReap_EndsStaleSessions(t *testing.T) {
	st := NewStore(nil)
	stale := st.Create("user-1")
	fresh := st.Create("user-2")

	cutoff := time.Now().Add(time.Hour)
	ended := st.Reap(cutoff)

	assert.Contains(t, ended, stale.ID)
	assert.Contains(t, ended, fresh.ID)

	_, ok := st.Get(stale.ID)
	assert.False(t, ok)
}

func TestAppendMessage_WritesThroughAsync(t *testing.T) {
	fvs := &fakeVectorStore{}
	st := NewStore(fvs)
	sess := st.Create("user-1")

	msg := types.NewMessage(types.RoleUser, "hello there", nil)
	require.NoError(t, st.AppendMessage(sess.ID, msg))

	conv, ok := st.Conversation(sess.ID)
	require.True(t, ok)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hello there", conv.Messages[0].Text)

	assert.Eventually(t, func() bool { return fvs.count() == 1 }, time.Second, time.Millisecond)
}

func TestAppendMessage_UnknownSession(t *testing.T) {
	st := NewStore(nil)
	err := st.AppendMessage("missing", types.NewMessage(types.RoleUser, "hi", nil))
	assert.ErrorIs(t, err, ErrNotFound)
}
