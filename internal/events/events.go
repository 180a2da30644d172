// Package events implements the per-session event multiplexer: a single
// ordered, lossless, back-pressured stream per session,
// modeled as a channel-per-session fan-out.
package events

import (
	"context"
	"sync"

	"github.com/chadiek/voxrelay/internal/types"
)

// Kind identifies one of the event kinds the multiplexer carries.
type Kind string

const (
	KindAudioChunk         Kind = "audio.chunk"
	KindAudioEnd           Kind = "audio.end"
	KindTranscriptPartial  Kind = "transcript.partial"
	KindTranscriptFinal    Kind = "transcript.final"
	KindGenerationStart    Kind = "generation.start"
	KindGenerationChunk    Kind = "generation.chunk"
	KindGenerationEnd      Kind = "generation.end"
	KindSynthesisStart     Kind = "synthesis.start"
	KindSynthesisChunk     Kind = "synthesis.chunk"
	KindSynthesisStop      Kind = "synthesis.stop"
	KindSynthesisEnd       Kind = "synthesis.end"
	KindSessionCreated     Kind = "session.created"
	KindSessionInterrupted Kind = "session.interrupted"
	KindError              Kind = "error"
)

// InterruptReason is the reason payload of a session.interrupted event.
type InterruptReason string

const (
	ReasonUser    InterruptReason = "user"
	ReasonTimeout InterruptReason = "timeout"
	ReasonError   InterruptReason = "error"
)

// AudioChunkPayload backs KindAudioChunk.
type AudioChunkPayload struct {
	SizeBytes  int
	SampleRate int
	Channels   int
}

// TranscriptPayload backs KindTranscriptPartial / KindTranscriptFinal.
type TranscriptPayload struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// GenerationEndPayload backs KindGenerationEnd.
type GenerationEndPayload struct {
	Text         string
	Verification types.VerificationVerdict
}

// ErrorPayload backs KindError.
type ErrorPayload struct {
	Code        string
	Message     string
	Recoverable bool
}

// SessionCreatedPayload backs KindSessionCreated.
type SessionCreatedPayload struct {
	SessionID      string
	ConversationID string
}

// Event is one item on a session's ordered stream. Seq is a
// monotonically increasing, per-session sequence number assigned by the
// Bus at send time.
type Event struct {
	SessionID string
	Seq       uint64
	Kind      Kind
	Payload   any
}

// stream is one session's outbound channel plus its sequence counter.
// Unbuffered by design: Send blocks until the consumer receives, which is
// the back-pressure mechanism the engine relies on — no unbounded buffer
// exists between producer and consumer. publishMu serializes the
// increment-then-send pair: Publish can be called concurrently for the
// same session (the turn goroutine and an interrupt triggered from the
// transport goroutine both publish against one stream), and a bare
// atomic increment on seq would still let two publishers interleave
// their sends out of seq order, which a per-stream mutex held across
// both steps rules out.
type stream struct {
	ch        chan Event
	publishMu sync.Mutex
	seq       uint64
}

// Bus is the process-wide event multiplexer: one ordered stream per
// session with a single consumer (the transport adapter). Publishers may
// be concurrent (a turn goroutine and an interrupt from the transport);
// each stream serializes them.
type Bus struct {
	streams    map[string]*stream
	reqCh      chan streamRequest
	shutdownOnce sync.Once
}

type streamRequest struct {
	sessionID string
	create    bool
	delete    bool
	reply     chan *stream
}

// NewBus constructs a Bus. Stream lifecycle is managed by a single internal
// goroutine so concurrent Subscribe/Close/Publish calls from different
// sessions never race on the stream map.
func NewBus() *Bus {
	b := &Bus{
		streams: make(map[string]*stream),
		reqCh:   make(chan streamRequest),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	for req := range b.reqCh {
		s := b.streams[req.sessionID]
		if s == nil && req.create {
			s = &stream{ch: make(chan Event)}
			b.streams[req.sessionID] = s
		}
		if req.delete {
			delete(b.streams, req.sessionID)
		}
		req.reply <- s
	}
}

func (b *Bus) getOrCreate(sessionID string) *stream {
	reply := make(chan *stream, 1)
	b.reqCh <- streamRequest{sessionID: sessionID, create: true, reply: reply}
	return <-reply
}

// Subscribe returns the receive-only channel for sessionID, creating it if
// necessary. There is exactly one consumer per session by contract; a
// second Subscribe call returns the same channel.
func (b *Bus) Subscribe(sessionID string) <-chan Event {
	return b.getOrCreate(sessionID).ch
}

// Publish sends an event on sessionID's stream, assigning the next
// sequence number. It blocks until the consumer receives or ctx is done —
// the former is deliberate back-pressure; the latter lets a turn's
// cancellation unstick a publish against an abandoned session.
func (b *Bus) Publish(ctx context.Context, sessionID string, kind Kind, payload any) error {
	s := b.getOrCreate(sessionID)

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.seq++
	ev := Event{SessionID: sessionID, Seq: s.seq, Kind: kind, Payload: payload}

	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down sessionID's stream, closing the channel so the consumer
// observes end-of-stream.
func (b *Bus) Close(sessionID string) {
	reply := make(chan *stream, 1)
	b.reqCh <- streamRequest{sessionID: sessionID, delete: true, reply: reply}
	s := <-reply
	if s == nil {
		return
	}
	close(s.ch)
}

// Shutdown stops the Bus's internal goroutine. Safe to call more than once.
// Publish, Subscribe and Close calls that reach the Bus's internal request
// channel after Shutdown panic (send on a closed channel), so callers must
// stop using the Bus before calling Shutdown.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() { close(b.reqCh) })
}
