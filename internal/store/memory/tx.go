package memory

import (
	"context"
	"time"

	"tasks-auth/internal/auth"
)

type tx struct {
	state state
}

func (t *tx) GetAccountByUsername(_ context.Context, username string) (auth.Account, error) {
	id, ok := t.state.usernames[username]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return t.state.accounts[id], nil
}

func (t *tx) GetAccountByID(_ context.Context, id string) (auth.Account, error) {
	account, ok := t.state.accounts[id]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return account, nil
}

func (t *tx) CreateAccount(_ context.Context, account auth.Account) error {
	if _, exists := t.state.usernames[account.Username]; exists {
		return auth.ErrConflict
	}
	t.state.accounts[account.ID] = account
	t.state.usernames[account.Username] = account.ID
	return nil
}

func (t *tx) UpdatePasswordHash(_ context.Context, accountID, hash string) error {
	account, ok := t.state.accounts[accountID]
	if !ok {
		return auth.ErrNotFound
	}
	account.PasswordHash = hash
	t.state.accounts[accountID] = account
	return nil
}

func (t *tx) IncrementFailedLogins(_ context.Context, accountID string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	account, ok := t.state.accounts[accountID]
	if !ok {
		return 0, nil, auth.ErrNotFound
	}

	account.FailedLoginAttempts++
	if account.FailedLoginAttempts >= threshold {
		until := lockUntil
		account.LockedUntil = &until
	}
	t.state.accounts[accountID] = account

	return account.FailedLoginAttempts, account.LockedUntil, nil
}

func (t *tx) ResetLockout(_ context.Context, accountID string) error {
	account, ok := t.state.accounts[accountID]
	if !ok {
		return auth.ErrNotFound
	}
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	t.state.accounts[accountID] = account
	return nil
}

func (t *tx) InsertLoginAttempt(_ context.Context, attempt auth.LoginAttempt) error {
	t.state.attempts = append(t.state.attempts, attempt)
	return nil
}

func (t *tx) InsertRefreshToken(_ context.Context, token auth.RefreshToken) error {
	if _, exists := t.state.tokenHashes[token.TokenHash]; exists {
		return auth.ErrConflict
	}
	t.state.tokens[token.ID] = token
	t.state.tokenHashes[token.TokenHash] = token.ID
	return nil
}

func (t *tx) GetRefreshTokenByHash(_ context.Context, tokenHash string) (auth.RefreshToken, error) {
	id, ok := t.state.tokenHashes[tokenHash]
	if !ok {
		return auth.RefreshToken{}, auth.ErrNotFound
	}
	return t.state.tokens[id], nil
}

func (t *tx) GetRefreshTokenOwner(ctx context.Context, tokenHash string) (string, error) {
	token, err := t.GetRefreshTokenByHash(ctx, tokenHash)
	if err != nil {
		return "", err
	}
	return token.AccountID, nil
}

func (t *tx) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time, replacedBy *string) (bool, error) {
	token, ok := t.state.tokens[id]
	if !ok || token.RevokedAt != nil {
		return false, nil
	}

	at := revokedAt
	token.RevokedAt = &at
	if replacedBy != nil {
		next := *replacedBy
		token.ReplacedByTokenID = &next
	}
	t.state.tokens[id] = token
	return true, nil
}

func (t *tx) RevokeActiveTokens(_ context.Context, accountID string, now time.Time) (int64, error) {
	var revoked int64
	for id, token := range t.state.tokens {
		if token.AccountID != accountID || !token.IsActive(now) {
			continue
		}
		at := now
		token.RevokedAt = &at
		t.state.tokens[id] = token
		revoked++
	}
	return revoked, nil
}

func (t *tx) DeleteExpiredTokens(_ context.Context, accountID string, now time.Time) (int64, error) {
	var deleted int64
	for id, token := range t.state.tokens {
		if token.AccountID != accountID || now.Before(token.ExpiresAt) {
			continue
		}
		delete(t.state.tokens, id)
		delete(t.state.tokenHashes, token.TokenHash)
		deleted++
	}
	return deleted, nil
}
