package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestFixedWindowExhaustion(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newMemoryAt(Window{Length: time.Minute, Max: 120}, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		res, err := m.Allow(ctx, "acme:203.0.113.7")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if res.Remaining != 120-(i+1) {
			t.Errorf("request %d: remaining=%d want %d", i+1, res.Remaining, 120-(i+1))
		}
	}

	// The 121st request within the window is rejected with a positive retry.
	res, err := m.Allow(ctx, "acme:203.0.113.7")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed || res.Remaining != 0 {
		t.Errorf("121st request should be rejected with zero remaining: %+v", res)
	}
	if res.RetryAfter <= 0 {
		t.Errorf("retry-after must be positive, got %v", res.RetryAfter)
	}

	// Other keys are unaffected.
	if res, _ := m.Allow(ctx, "acme:198.51.100.9"); !res.Allowed {
		t.Error("different ip should have its own window")
	}
	if res, _ := m.Allow(ctx, "globex:203.0.113.7"); !res.Allowed {
		t.Error("different slug should have its own window")
	}
}

func TestFixedWindowReset(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newMemoryAt(Window{Length: time.Minute, Max: 2}, func() time.Time { return now })
	ctx := context.Background()

	m.Allow(ctx, "k")
	m.Allow(ctx, "k")
	if res, _ := m.Allow(ctx, "k"); res.Allowed {
		t.Fatal("window should be exhausted")
	}

	// After the window elapses the counter resets on next check.
	now = now.Add(61 * time.Second)
	res, _ := m.Allow(ctx, "k")
	if !res.Allowed || res.Remaining != 1 {
		t.Errorf("expected fresh window, got %+v", res)
	}
}

func TestRetryAfterShrinksWithinWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newMemoryAt(Window{Length: time.Minute, Max: 1}, func() time.Time { return now })
	ctx := context.Background()

	m.Allow(ctx, "k")
	now = now.Add(45 * time.Second)
	res, _ := m.Allow(ctx, "k")
	if res.Allowed {
		t.Fatal("should be limited")
	}
	if res.RetryAfter != 15*time.Second {
		t.Errorf("retry-after should be the window remainder, got %v", res.RetryAfter)
	}
}

func TestSweepDropsExpiredBuckets(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newMemoryAt(Window{Length: time.Minute, Max: 5}, func() time.Time { return now })
	ctx := context.Background()

	m.Allow(ctx, "a")
	m.Allow(ctx, "b")
	now = now.Add(30 * time.Second)
	m.Allow(ctx, "c")
	if m.size() != 3 {
		t.Fatalf("expected 3 buckets, got %d", m.size())
	}

	now = now.Add(31 * time.Second) // a and b expired, c still live
	if removed := m.Sweep(); removed != 2 {
		t.Errorf("expected 2 swept, got %d", removed)
	}
	if m.size() != 1 {
		t.Errorf("expected 1 bucket left, got %d", m.size())
	}
}

func TestFactoryDefaultsToMemory(t *testing.T) {
	l, err := New(Window{Length: time.Minute, Max: 10}, "", "", 0)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, ok := l.(*memoryLimiter); !ok {
		t.Errorf("expected memory backend, got %T", l)
	}
}
