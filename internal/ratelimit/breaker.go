package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is one of the three states a circuit breaker can occupy.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int
	// OpenDuration is how long the breaker stays open before allowing one
	// half-open probe call.
	OpenDuration time.Duration
}

// ErrBreakerOpen is returned by Allow when the breaker is open and the
// OpenDuration window hasn't elapsed.
var ErrBreakerOpen = fmt.Errorf("ratelimit: circuit breaker open")

// Breaker is a per-upstream-port three-state circuit breaker: closed calls
// pass through; FailureThreshold consecutive failures trip it to open,
// which rejects calls outright until OpenDuration elapses; the next call
// then becomes a half-open probe — success closes the breaker, failure
// reopens it with a fresh OpenDuration window.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	probeInFlight bool
}

// NewBreaker constructs a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a call may proceed. A nil error means proceed; the
// caller must call Success or Failure with the outcome. ErrBreakerOpen
// means the call must not be attempted.
func (b *Breaker) Allow(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.OpenDuration {
			return ErrBreakerOpen
		}
		if b.probeInFlight {
			return ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrBreakerOpen
		}
		b.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// Success records a successful call, closing the breaker and resetting the
// failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probeInFlight = false
}

// Failure records a failed call. From closed, FailureThreshold consecutive
// failures trips to open. From half-open, any failure reopens immediately
// with a fresh window.
func (b *Breaker) Failure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.failures = 0
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = now
			b.failures = 0
		}
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
