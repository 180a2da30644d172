// Package transportws is a demo transport adapter: it upgrades an HTTP
// connection to a websocket and bridges inbound audio/control frames to the
// audio gate and pipeline engine, and the engine's outbound event stream
// back out over the same socket. The wire protocol carried — the
// transport itself — is explicitly outside the engine's scope; this
// package exists only to show one way a host process can drive it.
package transportws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/voxrelay/internal/audio"
	"github.com/chadiek/voxrelay/internal/events"
	"github.com/chadiek/voxrelay/internal/pipeline"
	"github.com/chadiek/voxrelay/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundKind is the control/audio message kind a client sends.
type inboundKind string

const (
	inboundAudioChunk inboundKind = "audio.chunk"
	inboundAudioEnd   inboundKind = "audio.end"
	inboundText       inboundKind = "text"
	inboundInterrupt  inboundKind = "interrupt"
)

// inboundMessage is the JSON control envelope. Audio bytes never ride in
// this struct — base64 is avoided by using a binary websocket frame
// instead, so JSON control frames and raw binary audio frames are
// multiplexed on the same connection.
type inboundMessage struct {
	Kind inboundKind `json:"kind"`
	Text string      `json:"text,omitempty"`
}

// outboundMessage mirrors one events.Event onto the wire.
type outboundMessage struct {
	Seq     uint64      `json:"seq"`
	Kind    events.Kind `json:"kind"`
	Payload any         `json:"payload,omitempty"`
}

// Handler bridges websocket connections to the session store, audio gate,
// and pipeline engine.
type Handler struct {
	Store  *session.Store
	Gate   *audio.Gate
	Engine *pipeline.Engine
	Bus    *events.Bus
}

// NewHandler constructs a Handler.
func NewHandler(store *session.Store, gate *audio.Gate, engine *pipeline.Engine, bus *events.Bus) *Handler {
	return &Handler{Store: store, Gate: gate, Engine: engine, Bus: bus}
}

// ServeHTTP upgrades the connection, creates a session for its lifetime, and
// runs the inbound/outbound pumps until either side closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transportws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sess := h.Store.Create(r.URL.Query().Get("user_id"))
	log.Printf("[%s] transportws: session created", sess.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	eventCh := h.Bus.Subscribe(sess.ID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pumpOutbound(conn, eventCh)
	}()

	h.pumpInbound(ctx, conn, sess.ID)

	cancel()
	h.Bus.Close(sess.ID)
	h.Gate.Reset(sess.ID)
	_ = h.Store.End(sess.ID)
	<-done
	log.Printf("[%s] transportws: session ended", sess.ID)
}

// pumpInbound reads frames until the client disconnects, routing binary
// frames to the audio gate and text frames to the control-message handler.
func (h *Handler) pumpInbound(ctx context.Context, conn *websocket.Conn, sessionID string) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			h.Gate.OnAudioChunk(sessionID, data)
		case websocket.TextMessage:
			var in inboundMessage
			if err := json.Unmarshal(data, &in); err != nil {
				log.Printf("[%s] transportws: invalid control frame: %v", sessionID, err)
				continue
			}
			h.handleControl(ctx, sessionID, in)
		}
	}
}

func (h *Handler) handleControl(ctx context.Context, sessionID string, in inboundMessage) {
	switch in.Kind {
	case inboundAudioEnd:
		if wav, ok := h.Gate.OnAudioEnd(sessionID); ok {
			go h.Engine.RunTurnFromAudio(ctx, sessionID, wav)
		}
	case inboundText:
		go h.Engine.RunTurnFromText(ctx, sessionID, in.Text)
	case inboundInterrupt:
		h.Engine.Interrupt(ctx, sessionID, events.ReasonUser)
	default:
		log.Printf("[%s] transportws: unknown control kind %q", sessionID, in.Kind)
	}
}

// pumpOutbound relays sessionID's event stream onto the socket as JSON text
// frames until the stream closes.
func (h *Handler) pumpOutbound(conn *websocket.Conn, eventCh <-chan events.Event) {
	for ev := range eventCh {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		out := outboundMessage{Seq: ev.Seq, Kind: ev.Kind, Payload: ev.Payload}
		if err := conn.WriteJSON(out); err != nil {
			return
		}
	}
}
