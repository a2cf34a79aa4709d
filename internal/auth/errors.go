package auth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrRefreshReuse       = fmt.Errorf("refresh token reuse detected: %w", ErrUnauthenticated)
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("username already exists")

	// ErrNotFound is returned by Tx lookups that match no row.
	ErrNotFound = errors.New("record not found")
)

type ErrAccountLocked struct {
	Until      time.Time
	RetryAfter time.Duration
	// Message is the text shown to the caller.
	Message string
}

func newAccountLocked(until, now time.Time) ErrAccountLocked {
	retry := until.Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return ErrAccountLocked{Until: until, RetryAfter: retry}
}

func (e ErrAccountLocked) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("account locked, try again in %d minutes", e.RetryAfterMinutes())
}

func (e ErrAccountLocked) RetryAfterMinutes() int {
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsAuthFailure reports whether err is an expected authentication outcome
// rather than an infrastructure fault.
func IsAuthFailure(err error) bool {
	var locked ErrAccountLocked
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.As(err, &locked)
}
