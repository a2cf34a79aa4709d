package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryLimiterAllowsMaxThenBlocks(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(5, 15*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _, err := limiter.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, allowed, "hit %d", i+1)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 15*time.Minute, retryAfter)

	allowed, _, err = limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	require.True(t, allowed)

	clock.Advance(3 * time.Minute)
	allowed, _, err = limiter.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.False(t, allowed)

	clock.Advance(12 * time.Minute)
	allowed, _, err = limiter.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestMemoryLimiterNeverExceedsMaxInAnyWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	window := 15 * time.Minute
	limiter := NewMemoryLimiter(5, window, WithClock(clock.Now))
	ctx := context.Background()

	var accepted []time.Time
	for clock.Now().Before(start.Add(time.Hour)) {
		allowed, _, err := limiter.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		if allowed {
			accepted = append(accepted, clock.Now())
		}
		clock.Advance(10 * time.Second)
	}

	for i := range accepted {
		inWindow := 0
		for _, at := range accepted[i:] {
			if at.Sub(accepted[i]) < window {
				inWindow++
			}
		}
		require.LessOrEqual(t, inWindow, 5, "window starting at %s", accepted[i])
	}
	require.Len(t, accepted, 20)
}

func TestMemoryLimiterEvictsIdleEntries(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(5, time.Minute, WithClock(clock.Now))
	limiter.maxEntries = 2

	ctx := context.Background()
	for _, key := range []string{"a", "b"} {
		_, _, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
	}

	clock.Advance(2 * time.Minute)
	_, _, err := limiter.Allow(ctx, "c")
	require.NoError(t, err)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Len(t, limiter.hitBy, 1)
	require.Contains(t, limiter.hitBy, "c")
}
