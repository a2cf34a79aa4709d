package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RateLimiter keeps a sliding-window log of hits in auth_rate_limit_hits.
// Hits for one bucket are serialized with a transaction-scoped advisory lock.
type RateLimiter struct {
	repo   *Repository
	scope  string
	max    int
	window time.Duration
	now    func() time.Time
}

func (r *Repository) NewRateLimiter(scope string, max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RateLimiter{
		repo:   r,
		scope:  scope,
		max:    max,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	bucket := l.scope + ":" + key

	sqlTx, err := l.repo.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin rate limit %s: %w", l.scope, err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, bucket); err != nil {
		return false, 0, fmt.Errorf("lock rate limit %s: %w", l.scope, err)
	}

	threshold := now.Add(-l.window)
	if _, err := sqlTx.ExecContext(ctx, `
		DELETE FROM auth_rate_limit_hits WHERE bucket = $1 AND hit_at <= $2
	`, bucket, threshold); err != nil {
		return false, 0, fmt.Errorf("expire rate limit %s: %w", l.scope, err)
	}

	var hits int
	var oldest sql.NullTime
	err = sqlTx.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(hit_at)
		FROM auth_rate_limit_hits
		WHERE bucket = $1 AND hit_at > $2
	`, bucket, threshold).Scan(&hits, &oldest)
	if err != nil {
		return false, 0, fmt.Errorf("count rate limit %s: %w", l.scope, err)
	}

	if hits >= l.max {
		retryAfter := time.Second
		if oldest.Valid {
			retryAfter = max(oldest.Time.Add(l.window).Sub(now), time.Second)
		}
		return false, retryAfter, nil
	}

	if _, err := sqlTx.ExecContext(ctx, `
		INSERT INTO auth_rate_limit_hits (bucket, hit_at) VALUES ($1, $2)
	`, bucket, now); err != nil {
		return false, 0, fmt.Errorf("record rate limit %s: %w", l.scope, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit rate limit %s: %w", l.scope, err)
	}

	return true, 0, nil
}
