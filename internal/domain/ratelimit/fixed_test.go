package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestFixed(t *testing.T, store CounterStore, clock *fakeClock, window time.Duration, max int) *FixedWindowLimiter {
	t.Helper()
	l, err := NewFixedWindowLimiter("test", mustPolicy(t, window, max), store,
		WithClock(clock.Now), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewFixedWindowLimiter() error: %v", err)
	}
	return l
}

func TestFixedWindowLimiter_Scenario(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(0)
	l := newTestFixed(t, newMapStore(), clock, time.Minute, 1)
	ctx := context.Background()
	d := Descriptor{IP: "10.0.0.1", Path: "/api/items", UserAgent: "curl/8"}

	dec := l.Check(ctx, d)
	if !dec.Allowed {
		t.Fatal("t=0: request should be allowed")
	}
	if dec.ResetTime.UnixMilli() != 60000 {
		t.Errorf("t=0: ResetTime = %d, want 60000", dec.ResetTime.UnixMilli())
	}

	clock.Set(5000)
	dec = l.Check(ctx, d)
	if dec.Allowed {
		t.Fatal("t=5000: request should be denied")
	}
	if dec.RetryAfter != 55*time.Second {
		t.Errorf("t=5000: RetryAfter = %v, want 55s", dec.RetryAfter)
	}
	if dec.RetryAfterSeconds() != 55 {
		t.Errorf("t=5000: RetryAfterSeconds() = %d, want 55", dec.RetryAfterSeconds())
	}
	if dec.Remaining != 0 {
		t.Errorf("t=5000: Remaining = %d, want 0", dec.Remaining)
	}

	clock.Set(61000)
	dec = l.Check(ctx, d)
	if !dec.Allowed {
		t.Fatal("t=61000: request should be allowed in a new window")
	}
	if dec.ResetTime.UnixMilli() != 121000 {
		t.Errorf("t=61000: ResetTime = %d, want 121000", dec.ResetTime.UnixMilli())
	}
}

func TestFixedWindowLimiter_CountsUpToMax(t *testing.T) {
	t.Parallel()

	const max = 4
	clock := newFakeClock(0)
	l := newTestFixed(t, newMapStore(), clock, time.Minute, max)
	d := Descriptor{IP: "10.0.0.2", Path: "/"}

	for i := 1; i <= max; i++ {
		clock.Set(int64(i * 100))
		dec := l.Check(context.Background(), d)
		if !dec.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if dec.Remaining != max-i {
			t.Errorf("request %d: Remaining = %d, want %d", i, dec.Remaining, max-i)
		}
		// Window is anchored at the first request.
		if dec.ResetTime.UnixMilli() != 60100 {
			t.Errorf("request %d: ResetTime = %d, want 60100", i, dec.ResetTime.UnixMilli())
		}
	}

	dec := l.Check(context.Background(), d)
	if dec.Allowed {
		t.Error("request max+1 should be denied")
	}
	if dec.TotalHits != max {
		t.Errorf("denied requests should not be counted: TotalHits = %d, want %d", dec.TotalHits, max)
	}
}

func TestFixedWindowLimiter_UserAgentInKey(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	l := newTestFixed(t, store, newFakeClock(0), time.Minute, 1)

	base := Descriptor{IP: "10.0.0.3", Path: "/"}
	a, b := base, base
	a.UserAgent = "agent-a"
	b.UserAgent = "agent-b"

	if !l.Check(context.Background(), a).Allowed {
		t.Fatal("agent-a should be allowed")
	}
	if !l.Check(context.Background(), b).Allowed {
		t.Error("agent-b behind the same ip should have its own quota")
	}

	keys, _ := store.Keys(context.Background(), "test:*")
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want 2", keys)
	}
	for _, k := range keys {
		if !strings.Contains(k, ":ua=") {
			t.Errorf("key %q should include the user-agent hash", k)
		}
	}
}

func TestFixedWindowLimiter_FailOpen(t *testing.T) {
	t.Parallel()

	l := newTestFixed(t, failingStore{}, newFakeClock(1000), time.Minute, 2)
	dec := l.Check(context.Background(), Descriptor{IP: "1.1.1.1"})
	if !dec.Allowed || !dec.FailOpen {
		t.Fatalf("got allowed=%v failOpen=%v, want fail-open", dec.Allowed, dec.FailOpen)
	}
	if dec.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", dec.Remaining)
	}
	if dec.ResetTime.UnixMilli() != 61000 {
		t.Errorf("ResetTime = %d, want 61000", dec.ResetTime.UnixMilli())
	}
}

func TestDecodeFixed(t *testing.T) {
	t.Parallel()

	rec, err := decodeFixed([]byte("3:1700000000000"))
	if err != nil {
		t.Fatalf("decodeFixed() error: %v", err)
	}
	if rec.count != 3 || rec.expiresAt != 1700000000000 {
		t.Errorf("decodeFixed() = %+v", rec)
	}
	if string(rec.encode()) != "3:1700000000000" {
		t.Errorf("encode() = %q", rec.encode())
	}

	for _, bad := range []string{"", "3", "x:1", "3:y", "-1:5"} {
		if _, err := decodeFixed([]byte(bad)); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("decodeFixed(%q) error = %v, want ErrInvalidRecord", bad, err)
		}
	}
}
