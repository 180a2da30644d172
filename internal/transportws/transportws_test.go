package transportws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/voxrelay/internal/audio"
	"github.com/chadiek/voxrelay/internal/events"
	"github.com/chadiek/voxrelay/internal/pipeline"
	"github.com/chadiek/voxrelay/internal/ports"
	"github.com/chadiek/voxrelay/internal/session"
	"github.com/chadiek/voxrelay/internal/types"
	"github.com/chadiek/voxrelay/internal/verify"
	"github.com/chadiek/voxrelay/internal/wake"
)

type fakeTranscriber struct{ text string }

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return f.text, nil
}

type fakeGenerator struct{}

func (f *fakeGenerator) GenerateStream(ctx context.Context, messages []ports.ConversationMessage, snapshot types.ContextSnapshot) (<-chan string, <-chan error) {
	tokCh := make(chan string, 1)
	errCh := make(chan error)
	tokCh <- "hi."
	close(tokCh)
	close(errCh)
	return tokCh, errCh
}

type fakeSynthesizer struct{}

func (f *fakeSynthesizer) SynthesizeStream(ctx context.Context, sentence string) (<-chan []byte, <-chan error) {
	audioCh := make(chan []byte, 1)
	errCh := make(chan error)
	audioCh <- []byte("pcm")
	close(audioCh)
	close(errCh)
	return audioCh, errCh
}

type staticContext struct{}

func (staticContext) Snapshot(ctx context.Context, sessionID string) types.ContextSnapshot {
	return types.ContextSnapshot{}
}

func newTestHandler(t *testing.T) *Handler {
	store := session.NewStore(nil)
	gate := audio.NewGate(store)
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	engine := pipeline.NewEngine()
	engine.Store = store
	engine.Bus = bus
	engine.Wake = wake.NewDetector(wake.Config{WakePhrases: []string{"hey assistant"}, InterruptPhrases: []string{"stop"}})
	engine.Verifier = verify.NewVerifier(0)
	engine.Context = staticContext{}
	engine.Transcriber = &fakeTranscriber{text: "hello there"}
	engine.Generator = &fakeGenerator{}
	engine.Synthesizer = &fakeSynthesizer{}
	if err := engine.Validate(); err != nil {
		t.Fatalf("engine misconfigured: %v", err)
	}

	return NewHandler(store, gate, engine, bus)
}

func mustDialWS(t *testing.T, serverURL string) *websocket.Conn {
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestServeHTTP_TextTurnProducesGenerationEndEvent(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := mustDialWS(t, srv.URL)
	defer conn.Close()

	if err := conn.WriteJSON(inboundMessage{Kind: inboundText, Text: "what time is it"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	sawGenerationEnd := false
	for time.Now().Before(deadline) && !sawGenerationEnd {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var out outboundMessage
		if err := conn.ReadJSON(&out); err != nil {
			break
		}
		if out.Kind == events.KindGenerationEnd {
			sawGenerationEnd = true
		}
	}

	if !sawGenerationEnd {
		t.Fatalf("expected a generation.end event before timeout")
	}
}
