// Package memory is an in-process auth.Store. Transactions are serialized
// and work on a copy of the state that replaces the original on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tasks-auth/internal/auth"
)

type Store struct {
	mu    sync.Mutex
	state state
}

type state struct {
	accounts    map[string]auth.Account
	usernames   map[string]string
	tokens      map[string]auth.RefreshToken
	tokenHashes map[string]string
	attempts    []auth.LoginAttempt
}

func New() *Store {
	return &Store{state: state{
		accounts:    make(map[string]auth.Account),
		usernames:   make(map[string]string),
		tokens:      make(map[string]auth.RefreshToken),
		tokenHashes: make(map[string]string),
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx auth.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{state: s.state.clone()}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.state = t.state
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CleanupStaleAuthData drops tokens expired before the retention cutoff and old login attempts.
func (s *Store) CleanupStaleAuthData(ctx context.Context, refreshRetention, loginAttemptRetention time.Duration, _ int) (auth.CleanupResult, error) {
	if err := ctx.Err(); err != nil {
		return auth.CleanupResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	refreshCutoff := now.Add(-refreshRetention)
	loginCutoff := now.Add(-loginAttemptRetention)

	var result auth.CleanupResult
	for id, t := range s.state.tokens {
		if t.ExpiresAt.Before(refreshCutoff) {
			delete(s.state.tokens, id)
			delete(s.state.tokenHashes, t.TokenHash)
			result.DeletedRefreshTokens++
		}
	}

	kept := s.state.attempts[:0]
	for _, a := range s.state.attempts {
		if a.AttemptedAt.Before(loginCutoff) {
			result.DeletedLoginAttempts++
			continue
		}
		kept = append(kept, a)
	}
	s.state.attempts = kept

	return result, nil
}

// RefreshTokens returns the stored tokens of accountID ordered by creation.
func (s *Store) RefreshTokens(accountID string) []auth.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []auth.RefreshToken
	for _, t := range s.state.tokens {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Account(username string) (auth.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.state.usernames[username]
	if !ok {
		return auth.Account{}, false
	}
	return s.state.accounts[id], true
}

func (s *Store) LoginAttempts() []auth.LoginAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]auth.LoginAttempt(nil), s.state.attempts...)
}

func (st state) clone() state {
	out := state{
		accounts:    make(map[string]auth.Account, len(st.accounts)),
		usernames:   make(map[string]string, len(st.usernames)),
		tokens:      make(map[string]auth.RefreshToken, len(st.tokens)),
		tokenHashes: make(map[string]string, len(st.tokenHashes)),
		attempts:    append([]auth.LoginAttempt(nil), st.attempts...),
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.usernames {
		out.usernames[k] = v
	}
	for k, v := range st.tokens {
		out.tokens[k] = v
	}
	for k, v := range st.tokenHashes {
		out.tokenHashes[k] = v
	}
	return out
}
