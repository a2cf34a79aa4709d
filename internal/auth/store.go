package auth

import (
	"context"
	"time"
)

// Tx is one logical unit of work against the persisted auth state.
// Lookups returning a single row lock it for the rest of the transaction.
type Tx interface {
	GetAccountByUsername(ctx context.Context, username string) (Account, error)
	GetAccountByID(ctx context.Context, id string) (Account, error)
	CreateAccount(ctx context.Context, account Account) error
	UpdatePasswordHash(ctx context.Context, accountID, hash string) error

	// IncrementFailedLogins bumps the counter and sets locked_until to lockUntil
	// once the counter reaches threshold, in a single statement.
	IncrementFailedLogins(ctx context.Context, accountID string, threshold int, lockUntil time.Time) (attempts int, lockedUntil *time.Time, err error)
	ResetLockout(ctx context.Context, accountID string) error
	InsertLoginAttempt(ctx context.Context, attempt LoginAttempt) error

	InsertRefreshToken(ctx context.Context, token RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error)
	// GetRefreshTokenOwner reads the owning account id without locking the row,
	// so callers can lock the account before the token.
	GetRefreshTokenOwner(ctx context.Context, tokenHash string) (string, error)
	// RevokeRefreshToken only succeeds while the row is unrevoked.
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time, replacedBy *string) (bool, error)
	RevokeActiveTokens(ctx context.Context, accountID string, now time.Time) (int64, error)
	DeleteExpiredTokens(ctx context.Context, accountID string, now time.Time) (int64, error)
}

type Store interface {
	// WithTx commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

// Transact runs fn in a transaction. Authentication failures still commit so
// that lockout counters and reuse revocations persist; any other error
// rolls everything back. Callbacks registered with AfterCommit run once the
// commit succeeded.
func Transact(ctx context.Context, store Store, fn func(tx Tx) error) error {
	var outcome error
	var hooked *hookedTx
	err := store.WithTx(ctx, func(tx Tx) error {
		hooked = &hookedTx{Tx: tx}
		outcome = fn(hooked)
		if outcome != nil && !IsAuthFailure(outcome) {
			return outcome
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, hook := range hooked.hooks {
		hook()
	}
	return outcome
}

type hookedTx struct {
	Tx
	hooks []func()
}

func (t *hookedTx) afterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

// AfterCommit defers fn until the Transact call owning tx has committed.
// A tx that did not come from Transact runs fn immediately.
func AfterCommit(tx Tx, fn func()) {
	if hooked, ok := tx.(*hookedTx); ok {
		hooked.afterCommit(fn)
		return
	}
	fn()
}
