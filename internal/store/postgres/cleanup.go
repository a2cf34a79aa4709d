package postgres

import (
	"context"
	"fmt"
	"time"

	"tasks-auth/internal/auth"
)

const defaultCleanupBatchSize = 500

// CleanupStaleAuthData deletes one batch per table. Refresh tokens are only
// removed once they have been expired for longer than refreshRetention.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, refreshRetention, loginAttemptRetention time.Duration, batchSize int) (auth.CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = defaultCleanupBatchSize
	}
	if refreshRetention <= 0 {
		refreshRetention = 14 * 24 * time.Hour
	}
	if loginAttemptRetention <= 0 {
		loginAttemptRetention = 30 * 24 * time.Hour
	}

	now := time.Now().UTC()

	deletedRefreshTokens, err := r.deleteBatch(ctx, "refresh tokens", `
		WITH stale AS (
			SELECT id
			FROM refresh_tokens
			WHERE expires_at < $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM refresh_tokens t
		USING stale
		WHERE t.id = stale.id
	`, now.Add(-refreshRetention), batchSize)
	if err != nil {
		return auth.CleanupResult{}, err
	}

	deletedLoginAttempts, err := r.deleteBatch(ctx, "login attempts", `
		WITH stale AS (
			SELECT id
			FROM login_attempts
			WHERE attempted_at < $1
			ORDER BY attempted_at ASC
			LIMIT $2
		)
		DELETE FROM login_attempts t
		USING stale
		WHERE t.id = stale.id
	`, now.Add(-loginAttemptRetention), batchSize)
	if err != nil {
		return auth.CleanupResult{}, err
	}

	deletedIPLimits, err := r.deleteBatch(ctx, "rate limits", `
		WITH stale AS (
			SELECT id
			FROM auth_rate_limit_hits
			WHERE hit_at < $1
			ORDER BY hit_at ASC
			LIMIT $2
		)
		DELETE FROM auth_rate_limit_hits t
		USING stale
		WHERE t.id = stale.id
	`, now.Add(-loginAttemptRetention), batchSize)
	if err != nil {
		return auth.CleanupResult{}, err
	}

	return auth.CleanupResult{
		DeletedRefreshTokens: deletedRefreshTokens,
		DeletedLoginAttempts: deletedLoginAttempts,
		DeletedIPLimits:      deletedIPLimits,
	}, nil
}

func (r *Repository) deleteBatch(ctx context.Context, label, query string, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale %s: %w", label, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale %s rows affected: %w", label, err)
	}
	return affected, nil
}
