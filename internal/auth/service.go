package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tasks-auth/internal/audit"
	"tasks-auth/internal/config"
	"tasks-auth/internal/password"
	"tasks-auth/internal/token"
)

const dummyPassword = "timing-parity-placeholder"

type Manager struct {
	hasher  *password.Hasher
	codec   *token.Codec
	lockout *LockoutTracker
	audit   *audit.Logger
	now     func() time.Time

	accessTTL   time.Duration
	refreshTTL  time.Duration
	dummyDigest string
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(cfg config.Config, hasher *password.Hasher, codec *token.Codec, auditLog *audit.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		hasher:     hasher,
		codec:      codec,
		audit:      auditLog,
		now:        func() time.Time { return time.Now().UTC() },
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lockout = NewLockoutTracker(cfg.LockoutThreshold, cfg.LockoutDuration, auditLog, m.now)

	digest, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}
	m.dummyDigest = digest

	return m, nil
}

// Login authenticates username and password and issues a new session.
// Unknown users and wrong passwords both fail with ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, tx Tx, username, plainPassword string, client ClientInfo) (Session, error) {
	now := m.now()

	account, err := tx.GetAccountByUsername(ctx, username)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Session{}, fmt.Errorf("load account: %w", err)
	}

	if found {
		if lockedErr, locked := m.lockout.LockedError(account); locked {
			if err := m.lockout.RecordAttempt(ctx, tx, username, false, client.IP); err != nil {
				return Session{}, err
			}
			m.audit.LoginDeniedLocked(username, client.IP)
			return Session{}, lockedErr
		}
	}

	digest := m.dummyDigest
	if found {
		digest = account.PasswordHash
	}
	ok, needsUpgrade := m.hasher.Verify(plainPassword, digest)

	if !found || !ok || account.Disabled {
		if err := m.lockout.RecordAttempt(ctx, tx, username, false, client.IP); err != nil {
			return Session{}, err
		}

		switch {
		case !found:
			m.audit.LoginFailure(username, client.IP, "unknown_user")
		case account.Disabled:
			m.audit.LoginFailure(username, client.IP, "account_disabled")
		default:
			m.audit.LoginFailure(username, client.IP, "invalid_password")
			locked, err := m.lockout.HandleFailed(ctx, tx, &account, client.IP)
			if err != nil {
				return Session{}, err
			}
			if locked {
				if lockedErr, ok := m.lockout.LockedError(account); ok {
					return Session{}, lockedErr
				}
			}
		}

		return Session{}, ErrInvalidCredentials
	}

	if err := m.lockout.RecordAttempt(ctx, tx, username, true, client.IP); err != nil {
		return Session{}, err
	}
	if err := m.lockout.HandleSuccess(ctx, tx, &account); err != nil {
		return Session{}, err
	}

	if needsUpgrade {
		upgraded, err := m.hasher.Hash(plainPassword)
		if err != nil {
			return Session{}, fmt.Errorf("rehash password: %w", err)
		}
		if err := tx.UpdatePasswordHash(ctx, account.ID, upgraded); err != nil {
			return Session{}, fmt.Errorf("store rehashed password: %w", err)
		}
		account.PasswordHash = upgraded
		AfterCommit(tx, func() { m.audit.PasswordRehashed(account.Username) })
	}

	AfterCommit(tx, func() { m.audit.LoginSuccess(account.Username, account.ID, client.IP, client.UserAgent) })

	if _, err := tx.DeleteExpiredTokens(ctx, account.ID, now); err != nil {
		return Session{}, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	tokenID, err := newID()
	if err != nil {
		return Session{}, err
	}

	return m.issueSession(ctx, tx, account, tokenID, now)
}

// Refresh exchanges a live refresh secret for a new session. Presenting a
// revoked or expired secret revokes every active token of the account.
func (m *Manager) Refresh(ctx context.Context, tx Tx, rawSecret string, client ClientInfo) (Session, error) {
	rawSecret = strings.TrimSpace(rawSecret)
	if rawSecret == "" {
		m.audit.TokenRefreshInvalid(client.IP, "missing_token")
		return Session{}, ErrUnauthenticated
	}

	now := m.now()

	tokenHash := m.codec.HashOpaque(rawSecret)

	// Account row first, then the token row: the same order login uses.
	ownerID, err := tx.GetRefreshTokenOwner(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.audit.TokenRefreshInvalid(client.IP, "unknown_token")
			return Session{}, ErrUnauthenticated
		}
		return Session{}, fmt.Errorf("load refresh token owner: %w", err)
	}

	account, err := tx.GetAccountByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.audit.TokenRefreshInvalid(client.IP, "unknown_account")
			return Session{}, ErrUnauthenticated
		}
		return Session{}, fmt.Errorf("load account: %w", err)
	}

	stored, err := tx.GetRefreshTokenByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.audit.TokenRefreshInvalid(client.IP, "unknown_token")
			return Session{}, ErrUnauthenticated
		}
		return Session{}, fmt.Errorf("load refresh token: %w", err)
	}

	if !stored.IsActive(now) {
		return Session{}, m.revokeOnReuse(ctx, tx, account, client, now)
	}

	if account.Disabled {
		if _, err := tx.RevokeRefreshToken(ctx, stored.ID, now, nil); err != nil {
			return Session{}, fmt.Errorf("revoke refresh token: %w", err)
		}
		m.audit.TokenRefreshInvalid(client.IP, "account_disabled")
		return Session{}, ErrUnauthenticated
	}

	nextID, err := newID()
	if err != nil {
		return Session{}, err
	}

	swapped, err := tx.RevokeRefreshToken(ctx, stored.ID, now, &nextID)
	if err != nil {
		return Session{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !swapped {
		return Session{}, m.revokeOnReuse(ctx, tx, account, client, now)
	}

	session, err := m.issueSession(ctx, tx, account, nextID, now)
	if err != nil {
		return Session{}, err
	}

	if _, err := tx.DeleteExpiredTokens(ctx, account.ID, now); err != nil {
		return Session{}, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	AfterCommit(tx, func() { m.audit.TokenRefresh(account.Username, client.IP) })
	return session, nil
}

// Logout revokes the presented refresh secret when it is live and owned by
// identity. It never fails for a missing or unknown secret.
func (m *Manager) Logout(ctx context.Context, tx Tx, identity token.Identity, rawSecret string, client ClientInfo) error {
	AfterCommit(tx, func() { m.audit.Logout(identity.Username, client.IP) })

	rawSecret = strings.TrimSpace(rawSecret)
	if rawSecret == "" {
		return nil
	}

	now := m.now()
	stored, err := tx.GetRefreshTokenByHash(ctx, m.codec.HashOpaque(rawSecret))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load refresh token: %w", err)
	}

	if !stored.IsActive(now) {
		return nil
	}
	if identity.Subject != "" && stored.AccountID != identity.Subject {
		return nil
	}

	if _, err := tx.RevokeRefreshToken(ctx, stored.ID, now, nil); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	return nil
}

func (m *Manager) Register(ctx context.Context, tx Tx, input RegisterInput, client ClientInfo) (Account, error) {
	if err := ValidateRegistration(input); err != nil {
		return Account{}, err
	}

	account, err := m.createAccount(ctx, tx, input.Username, input.Password, RoleUser)
	if err != nil {
		return Account{}, err
	}

	AfterCommit(tx, func() { m.audit.Registration(account.Username, client.IP) })
	return account, nil
}

// EnsureAdmin creates an admin account unless username already exists. The
// credentials must pass the same rules as registration.
func (m *Manager) EnsureAdmin(ctx context.Context, tx Tx, username, plainPassword string) (bool, error) {
	if username == "" || plainPassword == "" {
		return false, nil
	}
	if err := ValidateRegistration(RegisterInput{Username: username, Password: plainPassword}); err != nil {
		return false, fmt.Errorf("admin credentials: %w", err)
	}

	_, err := tx.GetAccountByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("load admin account: %w", err)
	}

	if _, err := m.createAccount(ctx, tx, username, plainPassword, RoleAdmin); err != nil {
		return false, err
	}

	return true, nil
}

func (m *Manager) createAccount(ctx context.Context, tx Tx, username, plainPassword, role string) (Account, error) {
	_, err := tx.GetAccountByUsername(ctx, username)
	if err == nil {
		return Account{}, ErrConflict
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, fmt.Errorf("check username: %w", err)
	}

	hash, err := m.hasher.Hash(plainPassword)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := newID()
	if err != nil {
		return Account{}, err
	}

	account := Account{
		ID:           id,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    m.now(),
	}
	if err := tx.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return Account{}, ErrConflict
		}
		return Account{}, fmt.Errorf("create account: %w", err)
	}

	return account, nil
}

func (m *Manager) revokeOnReuse(ctx context.Context, tx Tx, account Account, client ClientInfo, now time.Time) error {
	revoked, err := tx.RevokeActiveTokens(ctx, account.ID, now)
	if err != nil {
		return fmt.Errorf("revoke active tokens: %w", err)
	}

	m.audit.TokenReuseDetected(account.Username, account.ID, client.IP, revoked)
	return ErrRefreshReuse
}

func (m *Manager) issueSession(ctx context.Context, tx Tx, account Account, refreshID string, now time.Time) (Session, error) {
	secret, err := m.codec.CreateRefreshSecret()
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh secret: %w", err)
	}

	err = tx.InsertRefreshToken(ctx, RefreshToken{
		ID:        refreshID,
		AccountID: account.ID,
		TokenHash: m.codec.HashOpaque(secret),
		CreatedAt: now,
		ExpiresAt: now.Add(m.refreshTTL),
	})
	if err != nil {
		return Session{}, fmt.Errorf("store refresh token: %w", err)
	}

	access, err := m.codec.CreateAccessToken(token.Identity{
		Subject:  account.ID,
		Username: account.Username,
		Role:     account.Role,
	}, m.accessTTL)
	if err != nil {
		return Session{}, err
	}

	csrf, err := m.codec.CreateCSRFToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate csrf token: %w", err)
	}

	return Session{
		AccountID:    account.ID,
		Username:     account.Username,
		Role:         account.Role,
		AccessToken:  access,
		RefreshToken: secret,
		CSRFToken:    csrf,
		ExpiresIn:    int64(m.accessTTL.Seconds()),
	}, nil
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return id.String(), nil
}
