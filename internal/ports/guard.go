package ports

import (
	"context"
	"fmt"
	"time"

	"github.com/chadiek/voxrelay/internal/ratelimit"
	"github.com/chadiek/voxrelay/internal/types"
)

// Guard applies the shared-resource protections — a token bucket plus a
// circuit breaker, both keyed by upstream port name — in front of the
// reference adapters before they reach the engine.
type Guard struct {
	Limiter *ratelimit.Limiter
	Breaker *ratelimit.Breaker
	key     string
}

// NewGuard constructs a Guard for one upstream port key ("transcribe",
// "generate", or "synthesize"), sharing limiter across ports (keyed
// internally) but owning one breaker per port.
func NewGuard(limiter *ratelimit.Limiter, breaker *ratelimit.Breaker, key string) *Guard {
	return &Guard{Limiter: limiter, Breaker: breaker, key: key}
}

// ErrRateLimited is returned when the token bucket for this port is empty.
var ErrRateLimited = fmt.Errorf("ports: rate limited")

// allow checks the limiter then the breaker, recording the outcome of the
// call via the returned record func once the caller knows whether it
// succeeded.
func (g *Guard) allow() (record func(err error), err error) {
	now := time.Now()
	if ok, retryAfter := g.Limiter.Allow(g.key, now); !ok {
		return func(error) {}, fmt.Errorf("%w: retry after %ds", ErrRateLimited, retryAfter)
	}
	if err := g.Breaker.Allow(now); err != nil {
		return func(error) {}, err
	}
	return func(callErr error) {
		if callErr != nil {
			g.Breaker.Failure(time.Now())
		} else {
			g.Breaker.Success()
		}
	}, nil
}

// GuardedTranscriber wraps a Transcriber behind a Guard.
type GuardedTranscriber struct {
	Guard *Guard
	Inner Transcriber
}

func (t *GuardedTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	record, err := t.Guard.allow()
	if err != nil {
		return "", err
	}
	text, err := t.Inner.Transcribe(ctx, wav)
	record(err)
	return text, err
}

// GuardedGenerator wraps a Generator behind a Guard. The breaker records
// one outcome per call, not per token: the last error (or none) the inner
// error channel carries before it closes, so a mid-stream error counts as a
// failure. The error is still relayed to the engine as usual.
type GuardedGenerator struct {
	Guard *Guard
	Inner Generator
}

func (g *GuardedGenerator) GenerateStream(ctx context.Context, messages []ConversationMessage, snapshot types.ContextSnapshot) (<-chan string, <-chan error) {
	record, err := g.Guard.allow()
	if err != nil {
		errCh := make(chan error, 1)
		errCh <- err
		close(errCh)
		tokCh := make(chan string)
		close(tokCh)
		return tokCh, errCh
	}
	tokCh, errCh := g.Inner.GenerateStream(ctx, messages, snapshot)
	return tokCh, recordingErrChan(errCh, record)
}

// GuardedSynthesizer wraps a Synthesizer behind a Guard.
type GuardedSynthesizer struct {
	Guard *Guard
	Inner Synthesizer
}

func (s *GuardedSynthesizer) SynthesizeStream(ctx context.Context, sentence string) (<-chan []byte, <-chan error) {
	record, err := s.Guard.allow()
	if err != nil {
		errCh := make(chan error, 1)
		errCh <- err
		close(errCh)
		audioCh := make(chan []byte)
		close(audioCh)
		return audioCh, errCh
	}
	audioCh, errCh := s.Inner.SynthesizeStream(ctx, sentence)
	return audioCh, recordingErrChan(errCh, record)
}

// recordingErrChan relays src to a new channel, calling record exactly once
// with whatever error (possibly nil) comes through before src closes.
func recordingErrChan(src <-chan error, record func(error)) <-chan error {
	out := make(chan error)
	go func() {
		defer close(out)
		var last error
		for err := range src {
			last = err
			out <- err
		}
		record(last)
	}()
	return out
}
