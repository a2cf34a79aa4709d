package auth

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"tasks-auth/internal/audit"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 30 * time.Minute
)

// LockoutTracker keeps the per-account failed login counter.
type LockoutTracker struct {
	threshold int
	duration  time.Duration
	audit     *audit.Logger
	now       func() time.Time
}

func NewLockoutTracker(threshold int, duration time.Duration, auditLog *audit.Logger, now func() time.Time) *LockoutTracker {
	if threshold <= 0 {
		threshold = defaultLockoutThreshold
	}
	if duration <= 0 {
		duration = defaultLockoutDuration
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &LockoutTracker{
		threshold: threshold,
		duration:  duration,
		audit:     auditLog,
		now:       now,
	}
}

// RecordAttempt appends a login attempt row for username as typed.
func (l *LockoutTracker) RecordAttempt(ctx context.Context, tx Tx, username string, success bool, ip string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate login attempt id: %w", err)
	}

	err = tx.InsertLoginAttempt(ctx, LoginAttempt{
		ID:          id.String(),
		Username:    username,
		Success:     success,
		IP:          ip,
		AttemptedAt: l.now(),
	})
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}

	return nil
}

// HandleFailed counts a failed login and reports whether this failure locked the account.
func (l *LockoutTracker) HandleFailed(ctx context.Context, tx Tx, account *Account, ip string) (bool, error) {
	now := l.now()
	attempts, lockedUntil, err := tx.IncrementFailedLogins(ctx, account.ID, l.threshold, now.Add(l.duration))
	if err != nil {
		return false, fmt.Errorf("increment failed logins: %w", err)
	}

	account.FailedLoginAttempts = attempts
	account.LockedUntil = lockedUntil

	if attempts >= l.threshold && account.IsLocked(now) {
		l.audit.AccountLocked(account.Username, ip, attempts)
		return true, nil
	}

	return false, nil
}

func (l *LockoutTracker) HandleSuccess(ctx context.Context, tx Tx, account *Account) error {
	wasLocked := account.LockedUntil != nil
	if account.FailedLoginAttempts == 0 && !wasLocked {
		return nil
	}

	if err := tx.ResetLockout(ctx, account.ID); err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}

	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	if wasLocked {
		username := account.Username
		AfterCommit(tx, func() { l.audit.AccountUnlocked(username, "successful_login") })
	}

	return nil
}

// CheckLocked never mutates the account.
func (l *LockoutTracker) CheckLocked(account Account) (bool, string) {
	now := l.now()
	if !account.IsLocked(now) {
		return false, ""
	}

	minutes := int(math.Ceil(account.LockedUntil.Sub(now).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}

	return true, fmt.Sprintf("Account locked. Try again in %d %s.", minutes, unit)
}

// LockedError is CheckLocked as an ErrAccountLocked carrying its message.
func (l *LockoutTracker) LockedError(account Account) (ErrAccountLocked, bool) {
	locked, message := l.CheckLocked(account)
	if !locked {
		return ErrAccountLocked{}, false
	}

	err := newAccountLocked(*account.LockedUntil, l.now())
	err.Message = message
	return err, true
}
