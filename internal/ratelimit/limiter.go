// Package ratelimit throttles requests per source key.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more hit for key fits the budget. When it
// does not, retryAfter says how long the caller should wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}
