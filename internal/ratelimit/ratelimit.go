// Package ratelimit implements two shared-resource protections applied to
// every upstream port call: a per-key token bucket, generalized
// from a per-principal limiter to key on upstream port name instead, and a
// three-state circuit breaker.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config configures a Limiter's token bucket.
type Config struct {
	RPS   float64
	Burst int
}

type tokenBucket struct {
	rps      float64
	capacity float64
	tokens   float64
	last     time.Time
}

type keyLimiter struct {
	mu sync.Mutex
	tb tokenBucket
}

// Limiter is a process-wide token bucket rate limiter keyed by an arbitrary
// string (typically an upstream port name: "transcribe", "generate",
// "synthesize").
type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*keyLimiter
}

// NewLimiter constructs a Limiter.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, m: make(map[string]*keyLimiter)}
}

// Allow reports whether a call keyed by key is permitted now, and if not,
// how many seconds to wait before retrying.
func (l *Limiter) Allow(key string, now time.Time) (ok bool, retryAfterSeconds int) {
	if l.cfg.RPS <= 0 || l.cfg.Burst <= 0 {
		return true, 0
	}

	kl := l.getOrCreate(key)
	kl.mu.Lock()
	defer kl.mu.Unlock()

	capacity := float64(l.cfg.Burst)
	if kl.tb.capacity == 0 {
		kl.tb = tokenBucket{rps: l.cfg.RPS, capacity: capacity, tokens: capacity, last: now}
	}
	kl.tb.rps = l.cfg.RPS
	kl.tb.capacity = capacity

	if elapsed := now.Sub(kl.tb.last).Seconds(); elapsed > 0 {
		kl.tb.tokens = math.Min(kl.tb.capacity, kl.tb.tokens+elapsed*kl.tb.rps)
		kl.tb.last = now
	}

	if kl.tb.tokens >= 1.0 {
		kl.tb.tokens -= 1.0
		return true, 0
	}

	seconds := (1.0 - kl.tb.tokens) / kl.tb.rps
	retry := int(math.Ceil(seconds))
	if retry < 1 {
		retry = 1
	}
	return false, retry
}

func (l *Limiter) getOrCreate(key string) *keyLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLimiter{}
		l.m[key] = kl
	}
	return kl
}
