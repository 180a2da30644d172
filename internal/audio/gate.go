package audio

import (
	"log"
	"sync"

	"github.com/chadiek/voxrelay/internal/session"
	"github.com/chadiek/voxrelay/internal/types"
)

// Gate implements the per-session on_audio_chunk / on_audio_end operations
// against a session store: buffering frames while listening,
// discarding short utterances, and handing qualifying buffers off as
// WAV-wrapped PCM ready for transcription.
type Gate struct {
	store             *session.Store
	minUtteranceBytes int

	mu      sync.Mutex
	buffers map[string]*Buffer
}

// NewGate constructs a Gate backed by store, gating on_audio_end against
// the package's default MinUtteranceBytes.
func NewGate(store *session.Store) *Gate {
	return &Gate{store: store, minUtteranceBytes: MinUtteranceBytes, buffers: make(map[string]*Buffer)}
}

// NewGateWithMinUtteranceBytes constructs a Gate that gates on_audio_end
// against minBytes instead of the package default — minBytes <= 0 falls
// back to MinUtteranceBytes.
func NewGateWithMinUtteranceBytes(store *session.Store, minBytes int) *Gate {
	if minBytes <= 0 {
		minBytes = MinUtteranceBytes
	}
	return &Gate{store: store, minUtteranceBytes: minBytes, buffers: make(map[string]*Buffer)}
}

func (g *Gate) bufferFor(sessionID string) *Buffer {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.buffers[sessionID]
	if b == nil {
		b = &Buffer{}
		g.buffers[sessionID] = b
	}
	return b
}

// OnAudioChunk implements on_audio_chunk: frames are dropped while the
// session is interrupted, otherwise the session transitions to listening
// (if not already) and the frame is appended to the buffer.
func (g *Gate) OnAudioChunk(sessionID string, frame []byte) {
	sess, ok := g.store.Get(sessionID)
	if !ok {
		return
	}
	if sess.State == types.SessionInterrupted {
		return
	}
	if sess.State != types.SessionListening {
		if err := g.store.Transition(sessionID, types.SessionListening); err != nil {
			return
		}
	}

	b := g.bufferFor(sessionID)
	if err := b.Append(frame); err != nil {
		log.Printf("audio: session=%s dropping malformed frame: %v", sessionID, err)
		return
	}
	_ = g.store.Transition(sessionID, types.SessionListening) // refresh last_activity_at
}

// OnAudioEnd implements on_audio_end: the buffer is taken; if it's shorter
// than the gate's configured minimum utterance length it's discarded and
// the session returns to idle. Otherwise the session transitions to
// processing and the WAV-wrapped PCM is returned, ready for the
// transcription port.
func (g *Gate) OnAudioEnd(sessionID string) (wav []byte, qualifies bool) {
	b := g.bufferFor(sessionID)
	data := b.Take()

	if len(data) < g.minUtteranceBytes {
		_ = g.store.Transition(sessionID, types.SessionIdle)
		return nil, false
	}

	_ = g.store.Transition(sessionID, types.SessionProcessing)
	return WrapWAV(data), true
}

// Reset discards any buffered audio for sessionID, e.g. after an interrupt
// or session end.
func (g *Gate) Reset(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.buffers, sessionID)
}
