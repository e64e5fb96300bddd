// Package ratelimit implements the ingress fixed-window counter limiter,
// keyed by (slug, client IP). The default backend keeps counters in memory;
// a Redis backend lets several ingress instances share one window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window configures one fixed counting window.
type Window struct {
	Length time.Duration
	Max    int
}

// Result is one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects one request for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

type bucket struct {
	count   int
	resetAt time.Time
}

type memoryLimiter struct {
	mu      sync.Mutex
	window  Window
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemory returns the in-process limiter.
func NewMemory(w Window) *memoryLimiter {
	return &memoryLimiter{window: w, buckets: make(map[string]*bucket), now: time.Now}
}

func newMemoryAt(w Window, now func() time.Time) *memoryLimiter {
	return &memoryLimiter{window: w, buckets: make(map[string]*bucket), now: now}
}

func (m *memoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	b := m.buckets[key]
	if b == nil || !b.resetAt.After(now) {
		m.buckets[key] = &bucket{count: 1, resetAt: now.Add(m.window.Length)}
		return Result{Allowed: true, Limit: m.window.Max, Remaining: max(m.window.Max-1, 0), RetryAfter: m.window.Length}, nil
	}
	retry := b.resetAt.Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	if b.count >= m.window.Max {
		return Result{Allowed: false, Limit: m.window.Max, Remaining: 0, RetryAfter: retry}, nil
	}
	b.count++
	return Result{Allowed: true, Limit: m.window.Max, Remaining: max(m.window.Max-b.count, 0), RetryAfter: retry}, nil
}

// Sweep drops buckets whose window has already elapsed. Counting stays
// correct without it (reset is lazy on check); this just bounds memory for
// long-running processes with high key churn.
func (m *memoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for key, b := range m.buckets {
		if !b.resetAt.After(now) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

func (m *memoryLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
