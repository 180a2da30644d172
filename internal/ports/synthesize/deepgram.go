package synthesize

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// DeepgramAdapter implements ports.Synthesizer against Deepgram's
// websocket speak API —
// only the idle-window/deadline loop is generalized to honor ctx directly
// rather than a bespoke stop channel.
type DeepgramAdapter struct {
	APIKey     string
	Model      string
	SampleRate int
}

// NewDeepgramAdapter constructs an adapter with the documented default
// voice and a sample rate matched to this engine's fixed PCM format.
func NewDeepgramAdapter(apiKey, model string) *DeepgramAdapter {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramAdapter{APIKey: apiKey, Model: model, SampleRate: 16000}
}

// SynthesizeStream implements ports.Synthesizer.
func (d *DeepgramAdapter) SynthesizeStream(ctx context.Context, sentence string) (<-chan []byte, <-chan error) {
	audioCh := make(chan []byte)
	errCh := make(chan error, 1)

	go func() {
		defer close(audioCh)
		defer close(errCh)

		if d.APIKey == "" {
			errCh <- fmt.Errorf("deepgram: API key missing")
			return
		}
		if sentence == "" {
			return
		}

		ctx, cancel := context.WithTimeout(ctx, Timeout)
		defer cancel()

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.Model,
			Encoding:   "linear16",
			SampleRate: d.SampleRate,
		}

		var lastRecvUnix int64
		var seenAudio int32
		cb := &speakCallback{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
			atomic.StoreInt32(&seenAudio, 1)
			chunk := make([]byte, len(data))
			copy(chunk, data)
			select {
			case audioCh <- chunk:
			case <-ctx.Done():
			}
			return nil
		}}

		dg, err := speak.NewWSUsingCallback(ctx, d.APIKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
			return
		}
		defer dg.Stop()

		if ok := dg.Connect(); !ok {
			errCh <- fmt.Errorf("deepgram: connect failed")
			return
		}
		if err := dg.SpeakWithText(sentence); err != nil {
			errCh <- fmt.Errorf("deepgram: speak text: %w", err)
			return
		}
		_ = dg.Flush()

		idleWindow := 400 * time.Millisecond
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt32(&seenAudio) == 1 {
					last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
					if time.Since(last) > idleWindow {
						return
					}
				}
			}
		}
	}()

	return audioCh, errCh
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
