package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voxrelay/internal/session"
	"github.com/chadiek/voxrelay/internal/types"
)

func TestGate_ShortUtteranceReturnsToIdle(t *testing.T) {
	st := session.NewStore(nil)
	sess := st.Create("user-1")
	g := NewGate(st)

	g.OnAudioChunk(sess.ID, make([]byte, 100))
	_, qualifies := g.OnAudioEnd(sess.ID)
	assert.False(t, qualifies)

	got, _ := st.Get(sess.ID)
	assert.Equal(t, types.SessionIdle, got.State)
}

func TestGate_QualifyingUtteranceTransitionsToProcessing(t *testing.T) {
	st := session.NewStore(nil)
	sess := st.Create("user-1")
	g := NewGate(st)

	g.OnAudioChunk(sess.ID, make([]byte, MinUtteranceBytes))
	wav, qualifies := g.OnAudioEnd(sess.ID)
	require.True(t, qualifies)
	assert.Equal(t, "RIFF", string(wav[0:4]))

	got, _ := st.Get(sess.ID)
	assert.Equal(t, types.SessionProcessing, got.State)
}

func TestGate_CustomMinUtteranceBytesOverridesDefault(t *testing.T) {
	st := session.NewStore(nil)
	sess := st.Create("user-1")
	g := NewGateWithMinUtteranceBytes(st, 10)

	g.OnAudioChunk(sess.ID, make([]byte, 10))
	_, qualifies := g.OnAudioEnd(sess.ID)
	assert.True(t, qualifies, "10 bytes is below the package default but above the configured minimum")
}

func TestGate_NonPositiveMinUtteranceBytesFallsBackToDefault(t *testing.T) {
	st := session.NewStore(nil)
	sess := st.Create("user-1")
	g := NewGateWithMinUtteranceBytes(st, 0)

	g.OnAudioChunk(sess.ID, make([]byte, 10))
	_, qualifies := g.OnAudioEnd(sess.ID)
	assert.False(t, qualifies, "a non-positive override should fall back to MinUtteranceBytes")
}

func TestGate_DropsFramesWhileInterrupted(t *testing.T) {
	st := session.NewStore(nil)
	sess := st.Create("user-1")
	g := NewGate(st)

	require.NoError(t, st.Transition(sess.ID, types.SessionProcessing))
	require.True(t, st.Interrupt(sess.ID))

	g.OnAudioChunk(sess.ID, make([]byte, MinUtteranceBytes))

	got, _ := st.Get(sess.ID)
	assert.Equal(t, types.SessionInterrupted, got.State, "frames must not resurrect an interrupted session")
}
