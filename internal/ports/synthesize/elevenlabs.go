// Package synthesize adapts ElevenLabs and Deepgram TTS clients
// into the streaming ports.Synthesizer contract: one sentence in, a channel
// of raw PCM chunks out, cancellable mid-stream.
package synthesize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Timeout is the hard ceiling on one synthesis call.
const Timeout = 30 * time.Second

// ElevenLabsAdapter implements ports.Synthesizer against ElevenLabs' HTTP
// streaming text-to-speech endpoint, carried over verbatim from the
// teacher's httpStream fallback (the WS stream-input path was dropped
// there too, "for reliability").
type ElevenLabsAdapter struct {
	HTTPClient *http.Client
	APIKey     string
	VoiceID    string
}

// NewElevenLabsAdapter constructs an adapter with a 0-timeout client — the
// call is bounded by ctx instead, since streaming responses can legitimately
// run for the length of the audio.
func NewElevenLabsAdapter(apiKey, voiceID string) *ElevenLabsAdapter {
	return &ElevenLabsAdapter{
		HTTPClient: &http.Client{},
		APIKey:     apiKey,
		VoiceID:    voiceID,
	}
}

// SynthesizeStream implements ports.Synthesizer.
func (e *ElevenLabsAdapter) SynthesizeStream(ctx context.Context, sentence string) (<-chan []byte, <-chan error) {
	audioCh := make(chan []byte)
	errCh := make(chan error, 1)

	go func() {
		defer close(audioCh)
		defer close(errCh)

		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}

		ctx, cancel := context.WithTimeout(ctx, Timeout)
		defer cancel()

		if err := e.httpStream(ctx, sentence, audioCh); err != nil {
			errCh <- err
		}
	}()

	return audioCh, errCh
}

func (e *ElevenLabsAdapter) httpStream(ctx context.Context, text string, audioCh chan<- []byte) error {
	u := url.URL{
		Scheme: "https",
		Host:   "api.elevenlabs.io",
		Path:   "/v1/text-to-speech/" + e.VoiceID + "/stream",
	}
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", "pcm_16000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body, _ := json.Marshal(map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case audioCh <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}
