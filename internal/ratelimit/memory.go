package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 5000

// MemoryLimiter keeps a sliding-window log of hit times per key. At most max
// hits are allowed in any interval of length window.
type MemoryLimiter struct {
	max        int
	window     time.Duration
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	hitBy map[string][]time.Time
}

type MemoryOption func(*MemoryLimiter)

func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

func NewMemoryLimiter(max int, window time.Duration, opts ...MemoryOption) *MemoryLimiter {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}

	l := &MemoryLimiter{
		max:        max,
		window:     window,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
		hitBy:      make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hitBy[key]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= l.max {
		l.hitBy[key] = filtered
		return false, max(filtered[0].Add(l.window).Sub(now), time.Second), nil
	}

	l.hitBy[key] = append(filtered, now)
	if len(l.hitBy) > l.maxEntries {
		l.cleanupLocked(threshold)
	}

	return true, 0, nil
}

// Keys whose newest hit has left the window carry no state worth keeping.
func (l *MemoryLimiter) cleanupLocked(threshold time.Time) {
	for key, hits := range l.hitBy {
		if len(hits) == 0 || !hits[len(hits)-1].After(threshold) {
			delete(l.hitBy, key)
		}
	}
}
