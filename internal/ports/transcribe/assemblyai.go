// Package transcribe adapts AssemblyAI's real-time websocket transcription
// API to the ports.Transcriber interface, generalized from a
// long-lived streaming service into the single-shot "submit one WAV-wrapped
// buffer, get text back" contract the pipeline engine's turn protocol needs
// for use by the pipeline engine's transcription step.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Timeout is the hard ceiling on one transcription call.
const Timeout = 30 * time.Second

// turnMessage mirrors AssemblyAI's streaming turn payload.
type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// AssemblyAIAdapter implements ports.Transcriber against AssemblyAI's v3
// streaming endpoint, treating the WAV container's data chunk as one
// complete utterance: connect, stream the PCM payload, wait for a formatted
// final turn (or the connection closing), then disconnect.
type AssemblyAIAdapter struct {
	APIKey string
	Dialer *websocket.Dialer
}

// NewAssemblyAIAdapter constructs an adapter with the documented handshake
// timeout default.
func NewAssemblyAIAdapter(apiKey string) *AssemblyAIAdapter {
	return &AssemblyAIAdapter{
		APIKey: apiKey,
		Dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Transcribe implements ports.Transcriber.
func (a *AssemblyAIAdapter) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if a.APIKey == "" {
		return "", fmt.Errorf("assemblyai: API key missing")
	}
	pcm, err := pcmFromWAV(wav)
	if err != nil {
		return "", fmt.Errorf("assemblyai: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "true")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	conn, _, err := a.Dialer.Dial(wsURL, map[string][]string{"Authorization": {a.APIKey}})
	if err != nil {
		return "", fmt.Errorf("assemblyai: connect: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	const chunkSize = 3200 // 100ms at 16kHz/16-bit mono
	for off := 0; off < len(pcm); off += chunkSize {
		end := off + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return "", fmt.Errorf("assemblyai: send audio: %w", err)
		}
	}
	if err := conn.WriteJSON(map[string]string{"type": "Terminate"}); err != nil {
		return "", fmt.Errorf("assemblyai: terminate: %w", err)
	}

	var best string
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return best, nil
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case "Turn":
			var tm turnMessage
			if err := json.Unmarshal(raw, &tm); err != nil {
				continue
			}
			if tm.Transcript != "" {
				best = tm.Transcript
			}
			if tm.TurnFormatted {
				return best, nil
			}
		case "Termination":
			return best, nil
		case "Error":
			var em errorMessage
			_ = json.Unmarshal(raw, &em)
			return "", fmt.Errorf("assemblyai: %s", em.Error)
		}
	}
}

// pcmFromWAV strips the 44-byte canonical header this engine's audio
// package synthesizes and returns the raw PCM payload.
func pcmFromWAV(wav []byte) ([]byte, error) {
	const headerSize = 44
	if len(wav) < headerSize {
		return nil, fmt.Errorf("wav buffer shorter than header")
	}
	return wav[headerSize:], nil
}
