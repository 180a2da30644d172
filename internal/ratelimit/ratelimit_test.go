package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_EnforcesBurstThenRefills(t *testing.T) {
	l := NewLimiter(Config{RPS: 1, Burst: 2})
	now := time.Now()

	if ok, _ := l.Allow("generate", now); !ok {
		t.Fatalf("first call should be allowed")
	}
	if ok, _ := l.Allow("generate", now); !ok {
		t.Fatalf("second call should be allowed (burst=2)")
	}
	if ok, retry := l.Allow("generate", now); ok || retry < 1 {
		t.Fatalf("third call should be denied with retryAfter>=1, got ok=%v retry=%d", ok, retry)
	}

	later := now.Add(2 * time.Second)
	if ok, _ := l.Allow("generate", later); !ok {
		t.Fatalf("call after refill window should be allowed")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RPS: 1, Burst: 1})
	now := time.Now()

	if ok, _ := l.Allow("transcribe", now); !ok {
		t.Fatalf("transcribe should be allowed")
	}
	if ok, _ := l.Allow("synthesize", now); !ok {
		t.Fatalf("synthesize key should be independent of transcribe")
	}
}

func TestAllow_ZeroConfigDisablesLimiting(t *testing.T) {
	l := NewLimiter(Config{})
	now := time.Now()
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow("generate", now); !ok {
			t.Fatalf("zero-value config should never deny")
		}
	}
}
