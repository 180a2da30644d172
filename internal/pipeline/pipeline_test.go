package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chadiek/voxrelay/internal/events"
	"github.com/chadiek/voxrelay/internal/ports"
	"github.com/chadiek/voxrelay/internal/session"
	"github.com/chadiek/voxrelay/internal/types"
	"github.com/chadiek/voxrelay/internal/verify"
	"github.com/chadiek/voxrelay/internal/wake"
)

// TestMain verifies that no turn goroutine or event-bus goroutine outlives
// its test: a leaked goroutine here would mean a turn failed to honor
// cancellation or an events.Bus stream was never drained.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return f.text, f.err
}

type fakeGenerator struct {
	sentences []string
	err       error
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, msgs []ports.ConversationMessage, snap types.ContextSnapshot) (<-chan string, <-chan error) {
	tokCh := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(tokCh)
		for _, s := range f.sentences {
			select {
			case <-ctx.Done():
				return
			case tokCh <- s:
			}
		}
		if f.err != nil {
			errCh <- f.err
		}
		close(errCh)
	}()
	return tokCh, errCh
}

type fakeSynthesizer struct {
	calls int
	err   error
}

func (f *fakeSynthesizer) SynthesizeStream(ctx context.Context, sentence string) (<-chan []byte, <-chan error) {
	f.calls++
	audioCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	audioCh <- []byte("pcm:" + sentence)
	close(audioCh)
	if f.err != nil {
		errCh <- f.err
	}
	close(errCh)
	return audioCh, errCh
}

type staticContext struct{}

func (staticContext) Snapshot(ctx context.Context, sessionID string) types.ContextSnapshot {
	return types.ContextSnapshot{}
}

func newTestEngine(t *testing.T, store *session.Store, gen ports.Generator, syn ports.Synthesizer, tr ports.Transcriber) (*Engine, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)
	e := &Engine{
		Store:       store,
		Bus:         bus,
		Wake:        wake.NewDetector(wake.Config{WakePhrases: []string{"hey assistant"}, InterruptPhrases: []string{"stop"}}),
		Verifier:    verify.NewVerifier(0),
		Context:     staticContext{},
		Transcriber: tr,
		Generator:   gen,
		Synthesizer: syn,
	}
	require.NoError(t, e.Validate())
	return e, bus
}

// runAndCollect runs fn in a goroutine while continuously draining
// sessionID's event stream (required, since Publish blocks on an
// unbuffered channel until received), returning every event observed once
// fn returns.
func runAndCollect(t *testing.T, bus *events.Bus, sessionID string, fn func()) []events.Event {
	t.Helper()
	ch := bus.Subscribe(sessionID)
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()

	var out []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-done:
			// drain anything already queued for a brief grace window.
			for {
				select {
				case ev := <-ch:
					out = append(out, ev)
				case <-time.After(50 * time.Millisecond):
					return out
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for turn to complete")
			return out
		}
	}
}

func kindsOf(evs []events.Event) map[events.Kind]int {
	out := make(map[events.Kind]int)
	for _, ev := range evs {
		out[ev.Kind]++
	}
	return out
}

func TestRunTurnFromAudio_HappyPath(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")

	gen := &fakeGenerator{sentences: []string{"The office is open. ", "It closes at five."}}
	syn := &fakeSynthesizer{}
	tr := &fakeTranscriber{text: "what are your hours"}

	e, bus := newTestEngine(t, store, gen, syn, tr)

	evs := runAndCollect(t, bus, sess.ID, func() {
		e.RunTurnFromAudio(context.Background(), sess.ID, []byte("wav-bytes"))
	})

	kinds := kindsOf(evs)
	assert.Equal(t, 1, kinds[events.KindTranscriptFinal])
	assert.Equal(t, 1, kinds[events.KindGenerationStart])
	assert.Equal(t, 1, kinds[events.KindSynthesisStart])
	assert.GreaterOrEqual(t, kinds[events.KindSynthesisChunk], 2)
	assert.Equal(t, 1, kinds[events.KindGenerationEnd])
	assert.Equal(t, 1, kinds[events.KindSynthesisEnd])

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, types.SessionIdle, got.State)
	assert.GreaterOrEqual(t, syn.calls, 2, "both sentences should have been dispatched")

	conv, _ := store.Conversation(sess.ID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, types.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, types.RoleAssistant, conv.Messages[1].Role)
}

func TestRunTurnFromAudio_TranscriptionFailure(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")

	e, bus := newTestEngine(t, store, &fakeGenerator{}, &fakeSynthesizer{}, &fakeTranscriber{err: fmt.Errorf("upstream down")})

	evs := runAndCollect(t, bus, sess.ID, func() {
		e.RunTurnFromAudio(context.Background(), sess.ID, []byte("wav"))
	})

	require.Len(t, evs, 1)
	assert.Equal(t, events.KindError, evs[0].Kind)
	payload, ok := evs[0].Payload.(events.ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, "transcription_failed", payload.Code)

	got, _ := store.Get(sess.ID)
	assert.Equal(t, types.SessionIdle, got.State)
}

func TestRunTurnFromAudio_EmptyTranscriptEndsTurnSilently(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")

	e, _ := newTestEngine(t, store, &fakeGenerator{}, &fakeSynthesizer{}, &fakeTranscriber{text: ""})
	e.RunTurnFromAudio(context.Background(), sess.ID, []byte("wav"))

	got, _ := store.Get(sess.ID)
	assert.Equal(t, types.SessionIdle, got.State)
}

func TestInterrupt_WhileSpeaking_EmitsStopThenInterrupted(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")
	require.NoError(t, store.Transition(sess.ID, types.SessionSpeaking))

	e, bus := newTestEngine(t, store, &fakeGenerator{}, &fakeSynthesizer{}, &fakeTranscriber{})

	var ok bool
	evs := runAndCollect(t, bus, sess.ID, func() {
		ok = e.Interrupt(context.Background(), sess.ID, events.ReasonUser)
	})

	require.True(t, ok)
	require.Len(t, evs, 2)
	assert.Equal(t, events.KindSynthesisStop, evs[0].Kind)
	assert.Equal(t, events.KindSessionInterrupted, evs[1].Kind)
	assert.Equal(t, events.ReasonUser, evs[1].Payload)

	got, _ := store.Get(sess.ID)
	assert.Equal(t, types.SessionInterrupted, got.State)
}

func TestInterrupt_FromIdle_IsFalse(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")
	e, _ := newTestEngine(t, store, &fakeGenerator{}, &fakeSynthesizer{}, &fakeTranscriber{})

	assert.False(t, e.Interrupt(context.Background(), sess.ID, events.ReasonUser))
}

func TestRunTurn_InterruptWordWhileSpeaking_ShortCircuits(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")
	require.NoError(t, store.Transition(sess.ID, types.SessionSpeaking))

	e, bus := newTestEngine(t, store, &fakeGenerator{}, &fakeSynthesizer{}, &fakeTranscriber{text: "stop"})

	evs := runAndCollect(t, bus, sess.ID, func() {
		e.RunTurnFromAudio(context.Background(), sess.ID, []byte("wav"))
	})

	require.Len(t, evs, 2)
	assert.Equal(t, events.KindSynthesisStop, evs[0].Kind)
	assert.Equal(t, events.KindSessionInterrupted, evs[1].Kind)

	got, _ := store.Get(sess.ID)
	assert.Equal(t, types.SessionInterrupted, got.State)
}

func TestRunTurn_WakeWordWhileInterrupted_ExtractsCommand(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")
	require.NoError(t, store.Transition(sess.ID, types.SessionProcessing))
	require.True(t, store.Interrupt(sess.ID))

	gen := &fakeGenerator{sentences: []string{"Sure, here you go."}}
	syn := &fakeSynthesizer{}
	e, bus := newTestEngine(t, store, gen, syn, &fakeTranscriber{text: "hey assistant what time is it"})

	evs := runAndCollect(t, bus, sess.ID, func() {
		e.RunTurnFromAudio(context.Background(), sess.ID, []byte("wav"))
	})

	require.NotEmpty(t, evs)
	transcript, ok := evs[0].Payload.(events.TranscriptPayload)
	require.True(t, ok)
	assert.Equal(t, "what time is it", transcript.Text)

	got, _ := store.Get(sess.ID)
	assert.Equal(t, types.SessionIdle, got.State, "command was processed through to completion")
}

func TestRunTurn_WakeWordWithEmptyCommand_WaitsForNextUtterance(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")
	require.NoError(t, store.Transition(sess.ID, types.SessionProcessing))
	require.True(t, store.Interrupt(sess.ID))

	e, bus := newTestEngine(t, store, &fakeGenerator{}, &fakeSynthesizer{}, &fakeTranscriber{text: "hey assistant"})

	evs := runAndCollect(t, bus, sess.ID, func() {
		e.RunTurnFromAudio(context.Background(), sess.ID, []byte("wav"))
	})

	require.Len(t, evs, 1)
	assert.Equal(t, events.KindTranscriptFinal, evs[0].Kind)

	got, _ := store.Get(sess.ID)
	assert.Equal(t, types.SessionInterrupted, got.State, "must remain interrupted awaiting the actual command")
}

func TestRunTurn_GenerationFailure_EmitsErrorButKeepsPartialProgress(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")

	gen := &fakeGenerator{sentences: []string{"Partial reply."}, err: fmt.Errorf("model timeout")}
	syn := &fakeSynthesizer{}
	e, bus := newTestEngine(t, store, gen, syn, &fakeTranscriber{text: "tell me something"})

	evs := runAndCollect(t, bus, sess.ID, func() {
		e.RunTurnFromAudio(context.Background(), sess.ID, []byte("wav"))
	})

	kinds := kindsOf(evs)
	assert.Equal(t, 1, kinds[events.KindError])

	got, _ := store.Get(sess.ID)
	assert.Equal(t, types.SessionIdle, got.State)
}

func TestRunTurn_SynthesisFailureForOneSentence_ContinuesTurn(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")

	gen := &fakeGenerator{sentences: []string{"First sentence. ", "Second sentence."}}
	syn := &fakeSynthesizer{err: fmt.Errorf("tts unavailable")}
	e, bus := newTestEngine(t, store, gen, syn, &fakeTranscriber{text: "hi"})

	runAndCollect(t, bus, sess.ID, func() {
		e.RunTurnFromAudio(context.Background(), sess.ID, []byte("wav"))
	})

	assert.GreaterOrEqual(t, syn.calls, 2, "synthesis failure on one sentence must not stop the rest")
	got, _ := store.Get(sess.ID)
	assert.Equal(t, types.SessionIdle, got.State)
}

func TestRunTurnFromText_SkipsTranscription(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")

	gen := &fakeGenerator{sentences: []string{"Acknowledged."}}
	syn := &fakeSynthesizer{}
	e, bus := newTestEngine(t, store, gen, syn, &fakeTranscriber{err: fmt.Errorf("should never be called")})

	evs := runAndCollect(t, bus, sess.ID, func() {
		e.RunTurnFromText(context.Background(), sess.ID, "set a reminder")
	})

	require.NotEmpty(t, evs)
	assert.Equal(t, events.KindTranscriptFinal, evs[0].Kind)
	transcript := evs[0].Payload.(events.TranscriptPayload)
	assert.Equal(t, "set a reminder", transcript.Text)
}

type slowGenerator struct {
	delay     time.Duration
	sentences []string
}

func (g *slowGenerator) GenerateStream(ctx context.Context, msgs []ports.ConversationMessage, snap types.ContextSnapshot) (<-chan string, <-chan error) {
	tokCh := make(chan string)
	errCh := make(chan error)
	go func() {
		defer close(tokCh)
		defer close(errCh)
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return
		}
		for _, s := range g.sentences {
			select {
			case <-ctx.Done():
				return
			case tokCh <- s:
			}
		}
	}()
	return tokCh, errCh
}

func TestRunTurn_ExceedingMaxLatencyLogsWarning(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")

	gen := &slowGenerator{delay: 20 * time.Millisecond, sentences: []string{"Here you go."}}
	e, bus := newTestEngine(t, store, gen, &fakeSynthesizer{}, &fakeTranscriber{text: "hi"})
	e.MaxLatency = 5 * time.Millisecond

	var logBuf bytes.Buffer
	prevOutput := log.Writer()
	log.SetOutput(&logBuf)
	defer log.SetOutput(prevOutput)

	runAndCollect(t, bus, sess.ID, func() {
		e.RunTurnFromAudio(context.Background(), sess.ID, []byte("wav"))
	})

	assert.Contains(t, logBuf.String(), "max_latency_ms budget")
}

func TestRunTurn_WithinMaxLatencyLogsNoWarning(t *testing.T) {
	store := session.NewStore(nil)
	sess := store.Create("user-1")

	gen := &fakeGenerator{sentences: []string{"Here you go."}}
	e, bus := newTestEngine(t, store, gen, &fakeSynthesizer{}, &fakeTranscriber{text: "hi"})
	e.MaxLatency = time.Hour

	var logBuf bytes.Buffer
	prevOutput := log.Writer()
	log.SetOutput(&logBuf)
	defer log.SetOutput(prevOutput)

	runAndCollect(t, bus, sess.ID, func() {
		e.RunTurnFromAudio(context.Background(), sess.ID, []byte("wav"))
	})

	assert.NotContains(t, logBuf.String(), "max_latency_ms budget")
}

func TestValidate_MissingCollaboratorErrors(t *testing.T) {
	e := &Engine{}
	assert.ErrorIs(t, e.Validate(), ErrEngineMisconfigured)
}
