package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tasks-auth/internal/auth"
)

type tx struct {
	tx *sql.Tx
}

const accountColumns = `id, username, password_hash, role, disabled, failed_login_attempts, locked_until, created_at`

func scanAccount(row *sql.Row) (auth.Account, error) {
	var account auth.Account
	var lockedUntil sql.NullTime
	err := row.Scan(
		&account.ID,
		&account.Username,
		&account.PasswordHash,
		&account.Role,
		&account.Disabled,
		&account.FailedLoginAttempts,
		&lockedUntil,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Account{}, auth.ErrNotFound
		}
		return auth.Account{}, err
	}

	account.LockedUntil = nullTimePtr(lockedUntil)
	return account, nil
}

func (t *tx) GetAccountByUsername(ctx context.Context, username string) (auth.Account, error) {
	account, err := scanAccount(t.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE username = $1
		FOR UPDATE
	`, username))
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return auth.Account{}, fmt.Errorf("query account by username: %w", err)
	}
	return account, err
}

func (t *tx) GetAccountByID(ctx context.Context, id string) (auth.Account, error) {
	account, err := scanAccount(t.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return auth.Account{}, fmt.Errorf("query account by id: %w", err)
	}
	return account, err
}

func (t *tx) CreateAccount(ctx context.Context, account auth.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (id, username, password_hash, role, disabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, account.ID, account.Username, account.PasswordHash, account.Role, account.Disabled, account.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (t *tx) UpdatePasswordHash(ctx context.Context, accountID, hash string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1
	`, accountID, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}

func (t *tx) IncrementFailedLogins(ctx context.Context, accountID string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	var attempts int
	var lockedUntil sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		UPDATE accounts
		SET
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE
				WHEN failed_login_attempts + 1 >= $2 THEN $3
				ELSE locked_until
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until
	`, accountID, threshold, lockUntil.UTC()).Scan(&attempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, auth.ErrNotFound
		}
		return 0, nil, fmt.Errorf("increment failed logins: %w", err)
	}

	return attempts, nullTimePtr(lockedUntil), nil
}

func (t *tx) ResetLockout(ctx context.Context, accountID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, accountID)
	if err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}
	return nil
}

func (t *tx) InsertLoginAttempt(ctx context.Context, attempt auth.LoginAttempt) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO login_attempts (id, username, success, ip_address, attempted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, attempt.ID, attempt.Username, attempt.Success, attempt.IP, attempt.AttemptedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

func (t *tx) InsertRefreshToken(ctx context.Context, token auth.RefreshToken) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, account_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, token.ID, token.AccountID, token.TokenHash, token.CreatedAt.UTC(), token.ExpiresAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (t *tx) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (auth.RefreshToken, error) {
	var token auth.RefreshToken
	var revokedAt sql.NullTime
	var replacedBy sql.NullString
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, account_id, token_hash, created_at, expires_at, revoked_at, replaced_by_token_id
		FROM refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash).Scan(
		&token.ID,
		&token.AccountID,
		&token.TokenHash,
		&token.CreatedAt,
		&token.ExpiresAt,
		&revokedAt,
		&replacedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.RefreshToken{}, auth.ErrNotFound
		}
		return auth.RefreshToken{}, fmt.Errorf("query refresh token: %w", err)
	}

	token.RevokedAt = nullTimePtr(revokedAt)
	if replacedBy.Valid {
		value := replacedBy.String
		token.ReplacedByTokenID = &value
	}
	return token, nil
}

func (t *tx) GetRefreshTokenOwner(ctx context.Context, tokenHash string) (string, error) {
	var accountID string
	err := t.tx.QueryRowContext(ctx, `
		SELECT account_id
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", auth.ErrNotFound
		}
		return "", fmt.Errorf("query refresh token owner: %w", err)
	}
	return accountID, nil
}

func (t *tx) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time, replacedBy *string) (bool, error) {
	var next sql.NullString
	if replacedBy != nil {
		next = sql.NullString{String: *replacedBy, Valid: true}
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2, replaced_by_token_id = COALESCE($3::uuid, replaced_by_token_id)
		WHERE id = $1 AND revoked_at IS NULL
	`, id, revokedAt.UTC(), next)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows affected: %w", err)
	}
	return affected == 1, nil
}

func (t *tx) RevokeActiveTokens(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2
	`, accountID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke active refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke active refresh tokens rows affected: %w", err)
	}
	return affected, nil
}

func (t *tx) DeleteExpiredTokens(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE account_id = $1 AND expires_at <= $2
	`, accountID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens rows affected: %w", err)
	}
	return affected, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
