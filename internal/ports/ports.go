// Package ports defines the engine's capability ports: the
// three upstream interfaces the pipeline engine drives — transcription,
// streaming generation, and streaming synthesis — decoupled from any one
// provider. Concrete adapters live in the transcribe, generate, and
// synthesize subpackages.
package ports

import (
	"context"

	"github.com/chadiek/voxrelay/internal/types"
)

// ConversationMessage is one message of the conversation-so-far handed to
// the generator, paired with the context snapshot.
type ConversationMessage struct {
	Role types.Role
	Text string
}

// Transcriber submits a WAV-wrapped PCM buffer and returns the recognized
// text. An empty result without error means silence; the pipeline treats
// that as an empty-text turn, not a failure.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Generator streams a reply token-by-token for the given conversation plus
// context snapshot. The returned token channel is closed when generation
// completes; the error channel carries at most one error and is closed
// alongside it. Cancelling ctx must stop the generator from yielding
// further tokens.
type Generator interface {
	GenerateStream(ctx context.Context, messages []ConversationMessage, snapshot types.ContextSnapshot) (<-chan string, <-chan error)
}

// Synthesizer streams synthesized audio for one sentence. The returned
// audio channel carries raw PCM chunks and is closed when synthesis for
// that sentence completes.
type Synthesizer interface {
	SynthesizeStream(ctx context.Context, sentence string) (<-chan []byte, <-chan error)
}
