package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"tasks-auth/internal/audit"
	"tasks-auth/internal/auth"
	"tasks-auth/internal/config"
	"tasks-auth/internal/password"
	"tasks-auth/internal/token"
)

func TestMigrationVersionsAreEmbedded(t *testing.T) {
	versions, err := migrationVersions()
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	require.Equal(t, "001_auth_schema.sql", versions[0])
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(errors.New("boom")))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	database, err := Open(ctx, config.Database{URL: url, MaxOpenConns: 10, MaxIdleConns: 5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, RunMigrations(ctx, database))
	return database
}

func createAccount(t *testing.T, repo *Repository) auth.Account {
	t.Helper()
	account := auth.Account{
		ID:           uuid.NewString(),
		Username:     "user-" + uuid.NewString(),
		PasswordHash: "digest",
		Role:         auth.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.WithTx(context.Background(), func(tx auth.Tx) error {
		return tx.CreateAccount(context.Background(), account)
	}))
	return account
}

func TestRepositoryAccountLifecycle(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()
	account := createAccount(t, repo)

	err := repo.WithTx(ctx, func(tx auth.Tx) error {
		return tx.CreateAccount(ctx, auth.Account{ID: uuid.NewString(), Username: account.Username, PasswordHash: "x", Role: auth.RoleUser})
	})
	require.ErrorIs(t, err, auth.ErrConflict)

	lockUntil := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	require.NoError(t, repo.WithTx(ctx, func(tx auth.Tx) error {
		for i := 1; i <= 2; i++ {
			attempts, locked, err := tx.IncrementFailedLogins(ctx, account.ID, 3, lockUntil)
			require.NoError(t, err)
			require.Equal(t, i, attempts)
			require.Nil(t, locked)
		}
		attempts, locked, err := tx.IncrementFailedLogins(ctx, account.ID, 3, lockUntil)
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
		require.NotNil(t, locked)
		require.True(t, lockUntil.Equal(*locked))
		return nil
	}))

	require.NoError(t, repo.WithTx(ctx, func(tx auth.Tx) error {
		loaded, err := tx.GetAccountByUsername(ctx, account.Username)
		require.NoError(t, err)
		require.Equal(t, 3, loaded.FailedLoginAttempts)
		require.True(t, loaded.IsLocked(time.Now()))

		require.NoError(t, tx.ResetLockout(ctx, account.ID))
		loaded, err = tx.GetAccountByID(ctx, account.ID)
		require.NoError(t, err)
		require.Zero(t, loaded.FailedLoginAttempts)
		require.Nil(t, loaded.LockedUntil)
		return nil
	}))

	err = repo.WithTx(ctx, func(tx auth.Tx) error {
		_, err := tx.GetAccountByUsername(ctx, "missing-"+uuid.NewString())
		return err
	})
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestRepositoryRefreshTokenRevocation(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()
	account := createAccount(t, repo)
	now := time.Now().UTC()

	first := auth.RefreshToken{ID: uuid.NewString(), AccountID: account.ID, TokenHash: uuid.NewString(), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	second := auth.RefreshToken{ID: uuid.NewString(), AccountID: account.ID, TokenHash: uuid.NewString(), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	expired := auth.RefreshToken{ID: uuid.NewString(), AccountID: account.ID, TokenHash: uuid.NewString(), CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}

	require.NoError(t, repo.WithTx(ctx, func(tx auth.Tx) error {
		for _, tok := range []auth.RefreshToken{first, expired} {
			require.NoError(t, tx.InsertRefreshToken(ctx, tok))
		}

		ok, err := tx.RevokeRefreshToken(ctx, first.ID, now, &second.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.InsertRefreshToken(ctx, second))

		ok, err = tx.RevokeRefreshToken(ctx, first.ID, now, nil)
		require.NoError(t, err)
		require.False(t, ok)

		deleted, err := tx.DeleteExpiredTokens(ctx, account.ID, now)
		require.NoError(t, err)
		require.EqualValues(t, 1, deleted)

		revoked, err := tx.RevokeActiveTokens(ctx, account.ID, now)
		require.NoError(t, err)
		require.EqualValues(t, 1, revoked)
		return nil
	}))

	require.NoError(t, repo.WithTx(ctx, func(tx auth.Tx) error {
		loaded, err := tx.GetRefreshTokenByHash(ctx, first.TokenHash)
		require.NoError(t, err)
		require.NotNil(t, loaded.RevokedAt)
		require.NotNil(t, loaded.ReplacedByTokenID)
		require.Equal(t, second.ID, *loaded.ReplacedByTokenID)

		owner, err := tx.GetRefreshTokenOwner(ctx, second.TokenHash)
		require.NoError(t, err)
		require.Equal(t, account.ID, owner)

		_, err = tx.GetRefreshTokenByHash(ctx, expired.TokenHash)
		require.ErrorIs(t, err, auth.ErrNotFound)
		return nil
	}))
}

func TestConcurrentRefreshAgainstPostgres(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	cfg := config.Config{AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour, LockoutThreshold: 5, LockoutDuration: time.Minute}
	auditLog := audit.New(nil, 64)
	t.Cleanup(auditLog.Close)
	manager, err := auth.NewManager(cfg,
		password.NewHasher(password.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1}),
		token.NewCodec("0123456789abcdef0123456789abcdef"),
		auditLog)
	require.NoError(t, err)

	username := "racer-" + uuid.NewString()[:8]
	require.NoError(t, auth.Transact(ctx, repo, func(tx auth.Tx) error {
		_, err := manager.Register(ctx, tx, auth.RegisterInput{Username: username, Password: "Str0ngPass!word"}, auth.ClientInfo{})
		return err
	}))

	var session auth.Session
	require.NoError(t, auth.Transact(ctx, repo, func(tx auth.Tx) error {
		var err error
		session, err = manager.Login(ctx, tx, username, "Str0ngPass!word", auth.ClientInfo{IP: "127.0.0.1"})
		return err
	}))

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = auth.Transact(ctx, repo, func(tx auth.Tx) error {
				_, err := manager.Refresh(ctx, tx, session.RefreshToken, auth.ClientInfo{})
				return err
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, auth.ErrUnauthenticated)
	}
	require.Equal(t, 1, succeeded)
}

func TestLoginRacingExpiredRefreshCompletes(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	cfg := config.Config{AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour, LockoutThreshold: 5, LockoutDuration: time.Minute}
	auditLog := audit.New(nil, 64)
	t.Cleanup(auditLog.Close)
	codec := token.NewCodec("0123456789abcdef0123456789abcdef")
	manager, err := auth.NewManager(cfg,
		password.NewHasher(password.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1}),
		codec,
		auditLog)
	require.NoError(t, err)

	username := "racer-" + uuid.NewString()[:8]
	var account auth.Account
	require.NoError(t, auth.Transact(ctx, repo, func(tx auth.Tx) error {
		var err error
		account, err = manager.Register(ctx, tx, auth.RegisterInput{Username: username, Password: "Str0ngPass!word"}, auth.ClientInfo{})
		return err
	}))

	for round := 0; round < 5; round++ {
		secret, err := codec.CreateRefreshSecret()
		require.NoError(t, err)
		now := time.Now().UTC()
		require.NoError(t, repo.WithTx(ctx, func(tx auth.Tx) error {
			return tx.InsertRefreshToken(ctx, auth.RefreshToken{
				ID:        uuid.NewString(),
				AccountID: account.ID,
				TokenHash: codec.HashOpaque(secret),
				CreatedAt: now.Add(-2 * time.Hour),
				ExpiresAt: now.Add(-time.Hour),
			})
		}))

		var loginErr, refreshErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			loginErr = auth.Transact(ctx, repo, func(tx auth.Tx) error {
				_, err := manager.Login(ctx, tx, username, "Str0ngPass!word", auth.ClientInfo{IP: "127.0.0.1"})
				return err
			})
		}()
		go func() {
			defer wg.Done()
			refreshErr = auth.Transact(ctx, repo, func(tx auth.Tx) error {
				_, err := manager.Refresh(ctx, tx, secret, auth.ClientInfo{})
				return err
			})
		}()
		wg.Wait()

		require.NoError(t, loginErr, "round %d", round)
		require.ErrorIs(t, refreshErr, auth.ErrUnauthenticated, "round %d", round)
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	start := time.Now().UTC()
	current := start
	limiter := repo.NewRateLimiter("test-"+uuid.NewString(), 2, time.Minute)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, allowed)
		current = current.Add(40 * time.Second)
	}

	// 80s in: the first hit has left the window, the second has not.
	allowed, _, err := limiter.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.True(t, allowed)

	current = current.Add(10 * time.Second)
	allowed, retryAfter, err := limiter.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.False(t, allowed)
	require.InDelta(t, (10 * time.Second).Seconds(), retryAfter.Seconds(), 1)
}
