// Package pipeline implements the per-session turn engine — the heart of
// the system: transcribe, wake/interrupt gate, generate,
// sentence-level synthesis, verify, finalize, one turn at a time per
// session, with response-id obsolescence and cancellation on interrupt.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/voxrelay/internal/events"
	"github.com/chadiek/voxrelay/internal/ports"
	"github.com/chadiek/voxrelay/internal/session"
	"github.com/chadiek/voxrelay/internal/types"
	"github.com/chadiek/voxrelay/internal/verify"
	"github.com/chadiek/voxrelay/internal/wake"
)

// Engine drives one turn at a time per session through the transcribe →
// wake/interrupt → generate → synthesize → verify → finalize protocol.
type Engine struct {
	Store       *session.Store
	Bus         *events.Bus
	Wake        *wake.Detector
	Verifier    verify.Mode
	Context     ContextProvider
	Transcriber ports.Transcriber
	Generator   ports.Generator
	Synthesizer ports.Synthesizer

	// MaxLatency is the time-to-first-audio budget a turn is warned about
	// exceeding. Zero disables the check.
	MaxLatency time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc // sessionID -> active turn cancel
}

// NewEngine constructs an Engine. All fields on the returned Engine may
// also be set directly; this constructor only initializes bookkeeping
// state.
func NewEngine() *Engine {
	return &Engine{active: make(map[string]context.CancelFunc)}
}

func (e *Engine) setActive(sessionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	if e.active == nil {
		e.active = make(map[string]context.CancelFunc)
	}
	e.active[sessionID] = cancel
	e.mu.Unlock()
}

func (e *Engine) clearActive(sessionID string) {
	e.mu.Lock()
	delete(e.active, sessionID)
	e.mu.Unlock()
}

// Interrupt implements the interrupt(session) operation: called by the
// transport on a control message, or internally by the wake/interrupt gate
// on detecting an interrupt word while speaking.
func (e *Engine) Interrupt(ctx context.Context, sessionID string, reason events.InterruptReason) bool {
	sess, ok := e.Store.Get(sessionID)
	if !ok {
		return false
	}
	wasSpeaking := sess.State == types.SessionSpeaking

	if !e.Store.Interrupt(sessionID) {
		return false
	}

	if wasSpeaking {
		_ = e.Bus.Publish(ctx, sessionID, events.KindSynthesisStop, nil)
	}
	_ = e.Bus.Publish(ctx, sessionID, events.KindSessionInterrupted, reason)

	e.mu.Lock()
	cancel := e.active[sessionID]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// emitError publishes an error event and is the common path for every
// transcription and generation failure mode. Verification failures do not
// come through here: safeVerify only logs them.
func (e *Engine) emitError(ctx context.Context, sessionID, code, message string, recoverable bool) {
	_ = e.Bus.Publish(ctx, sessionID, events.KindError, events.ErrorPayload{
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
	})
}

// checkLatency logs a warning when the time from generation start to
// first audio chunk exceeds the configured MaxLatency budget.
func (e *Engine) checkLatency(sessionID string, turnStart time.Time) {
	if e.MaxLatency <= 0 {
		return
	}
	if elapsed := time.Since(turnStart); elapsed > e.MaxLatency {
		log.Printf("pipeline: session=%s time-to-first-audio %s exceeded max_latency_ms budget %s", sessionID, elapsed, e.MaxLatency)
	}
}

// RunTurnFromAudio runs one turn starting from a WAV-wrapped PCM buffer.
func (e *Engine) RunTurnFromAudio(ctx context.Context, sessionID string, wav []byte) {
	text, err := e.Transcriber.Transcribe(ctx, wav)
	if err != nil {
		e.emitError(ctx, sessionID, "transcription_failed", err.Error(), true)
		_ = e.Store.Transition(sessionID, types.SessionIdle)
		return
	}
	if text == "" {
		_ = e.Store.Transition(sessionID, types.SessionIdle)
		return
	}
	e.runTurn(ctx, sessionID, text)
}

// RunTurnFromText runs one turn starting from a transport-injected
// transcript, skipping the transcription step entirely.
func (e *Engine) RunTurnFromText(ctx context.Context, sessionID, text string) {
	if text == "" {
		return
	}
	e.runTurn(ctx, sessionID, text)
}

// runTurn runs the wake/interrupt gate, generation, synthesis, and
// verification steps of one turn.
func (e *Engine) runTurn(ctx context.Context, sessionID, transcript string) {
	sess, ok := e.Store.Get(sessionID)
	if !ok {
		return
	}

	result := e.Wake.Classify(transcript)

	switch {
	case sess.State == types.SessionSpeaking && result.Kind == wake.KindInterrupt:
		e.Interrupt(ctx, sessionID, events.ReasonUser)
		return

	case sess.State == types.SessionInterrupted && result.Kind == wake.KindWake:
		cmd := wake.ExtractCommandAfterWake(transcript, result.Matched)
		if cmd == "" {
			e.emitTranscript(ctx, sessionID, transcript)
			return
		}
		_ = e.Store.Transition(sessionID, types.SessionProcessing)
		transcript = cmd

	case sess.State != types.SessionInterrupted && result.Kind == wake.KindWake:
		cmd := wake.ExtractCommandAfterWake(transcript, result.Matched)
		if cmd == "" {
			e.emitTranscript(ctx, sessionID, transcript)
			return
		}
		transcript = cmd
	}

	e.emitTranscript(ctx, sessionID, transcript)

	userMsg := types.NewMessage(types.RoleUser, transcript, nil)
	_ = e.Store.AppendMessage(sessionID, userMsg)

	responseID, err := e.Store.MintResponseID(sessionID)
	if err != nil {
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	e.setActive(sessionID, cancel)
	defer func() {
		cancel()
		e.clearActive(sessionID)
	}()

	e.generateAndSynthesize(turnCtx, sessionID, responseID)
}

func (e *Engine) emitTranscript(ctx context.Context, sessionID, text string) {
	_ = e.Bus.Publish(ctx, sessionID, events.KindTranscriptFinal, events.TranscriptPayload{
		Text: text, IsFinal: true,
	})
}

// isLive reports whether id is still the session's active_response_id and
// the session hasn't been interrupted — the pre-emit check required before
// every side effect a turn produces.
func (e *Engine) isLive(sessionID string, id types.ResponseID) bool {
	sess, ok := e.Store.Get(sessionID)
	if !ok {
		return false
	}
	return sess.State != types.SessionInterrupted && e.Store.IsActiveResponse(sessionID, id)
}

// generateAndSynthesize drives generation and sentence-level synthesis for
// one turn, then verification and finalization.
func (e *Engine) generateAndSynthesize(ctx context.Context, sessionID string, responseID types.ResponseID) {
	snapshot := e.Context.Snapshot(ctx, sessionID)
	conv, _ := e.Store.Conversation(sessionID)

	msgs := make([]ports.ConversationMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		msgs = append(msgs, ports.ConversationMessage{Role: m.Role, Text: m.Text})
	}

	turnStart := time.Now()
	_ = e.Bus.Publish(ctx, sessionID, events.KindGenerationStart, nil)
	tokenCh, genErrCh := e.Generator.GenerateStream(ctx, msgs, snapshot)

	var fullReply strings.Builder
	var sentenceBuf sentencePump
	startedSpeaking := false

	var lastGenErr error
loop:
	for {
		select {
		case tok, ok := <-tokenCh:
			if !ok {
				// The generator may queue its error just before closing
				// tokenCh; collect it before leaving the loop.
				if genErrCh != nil {
					for err := range genErrCh {
						if err != nil {
							lastGenErr = err
						}
					}
				}
				break loop
			}
			if !e.isLive(sessionID, responseID) {
				break loop
			}
			fullReply.WriteString(tok)
			_ = e.Bus.Publish(ctx, sessionID, events.KindGenerationChunk, tok)

			for _, s := range sentenceBuf.Push(tok) {
				if !startedSpeaking {
					startedSpeaking = true
					_ = e.Store.Transition(sessionID, types.SessionSpeaking)
					_ = e.Bus.Publish(ctx, sessionID, events.KindSynthesisStart, nil)
					e.checkLatency(sessionID, turnStart)
				}
				e.synthesizeSentence(ctx, sessionID, responseID, s)
			}
		case err, ok := <-genErrCh:
			if !ok {
				genErrCh = nil
				continue
			}
			if err != nil {
				lastGenErr = err
			}
		}
	}

	if lastGenErr != nil {
		e.emitError(ctx, sessionID, "generation", lastGenErr.Error(), true)
	}

	if e.isLive(sessionID, responseID) {
		if tail := sentenceBuf.Flush(); tail != "" {
			if !startedSpeaking {
				startedSpeaking = true
				_ = e.Store.Transition(sessionID, types.SessionSpeaking)
				_ = e.Bus.Publish(ctx, sessionID, events.KindSynthesisStart, nil)
			}
			e.synthesizeSentence(ctx, sessionID, responseID, tail)
		}
	}

	e.verifyAndFinalize(ctx, sessionID, responseID, fullReply.String(), startedSpeaking)
}

// synthesizeSentence dispatches one sentence to the synthesis port and
// blocks until that sentence's audio channel closes. The caller only moves
// on to the next sentence once this returns, which is the serialization
// the turn protocol requires: sentence N+1 starts only after sentence N's
// callback returns.
func (e *Engine) synthesizeSentence(ctx context.Context, sessionID string, responseID types.ResponseID, sentence string) {
	audioCh, errCh := e.Synthesizer.SynthesizeStream(ctx, sentence)
	for audioCh != nil || errCh != nil {
		select {
		case chunk, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			if !e.isLive(sessionID, responseID) {
				continue // drain without emitting; pre-emit check failed
			}
			_ = e.Bus.Publish(ctx, sessionID, events.KindSynthesisChunk, chunk)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				log.Printf("pipeline: session=%s synthesis error, continuing: %v", sessionID, err)
			}
		}
	}
}

// verifyAndFinalize runs claim verification over the full reply and
// finalizes the turn.
func (e *Engine) verifyAndFinalize(ctx context.Context, sessionID string, responseID types.ResponseID, fullReply string, startedSpeaking bool) {
	if fullReply == "" {
		e.finalize(ctx, sessionID, startedSpeaking)
		return
	}

	verdict := e.safeVerify(sessionID, fullReply)

	finalText := fullReply
	if !verdict.Verified && verdict.Rewritten != "" {
		finalText = verdict.Rewritten
		for _, w := range verdict.Warnings {
			log.Printf("pipeline: session=%s unverified claim: %s", sessionID, w)
		}
	}

	assistantMsg := types.NewMessage(types.RoleAssistant, finalText, verdict.Citations)
	_ = e.Store.AppendMessage(sessionID, assistantMsg)

	_ = e.Bus.Publish(ctx, sessionID, events.KindGenerationEnd, events.GenerationEndPayload{
		Text:         finalText,
		Verification: verdict,
	})

	e.finalize(ctx, sessionID, startedSpeaking)
}

// safeVerify recovers from a verifier panic and degrades to proceeding with
// unverified text plus a logged warning, rather than failing the turn.
func (e *Engine) safeVerify(sessionID, fullReply string) types.VerificationVerdict {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: session=%s verification panicked: %v", sessionID, r)
		}
	}()
	return e.Verifier.Verify(fullReply, e.Context.Snapshot(context.Background(), sessionID))
}

func (e *Engine) finalize(ctx context.Context, sessionID string, startedSpeaking bool) {
	if startedSpeaking {
		_ = e.Bus.Publish(ctx, sessionID, events.KindSynthesisEnd, nil)
	}
	_ = e.Store.Transition(sessionID, types.SessionIdle)
}

// ErrEngineMisconfigured is returned by Validate when a required port or
// collaborator is nil.
var ErrEngineMisconfigured = fmt.Errorf("pipeline: engine missing a required collaborator")

// Validate checks that every required collaborator is set, catching wiring
// mistakes at startup instead of at the first turn.
func (e *Engine) Validate() error {
	if e.Store == nil || e.Bus == nil || e.Wake == nil || e.Verifier == nil ||
		e.Context == nil || e.Transcriber == nil || e.Generator == nil || e.Synthesizer == nil {
		return ErrEngineMisconfigured
	}
	return nil
}
