package auth

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type Account struct {
	ID                  string
	Username            string
	PasswordHash        string
	Role                string
	Disabled            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
}

// IsLocked reports whether the lock window is still open at now.
func (a Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

type RefreshToken struct {
	ID                string
	AccountID         string
	TokenHash         string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	ReplacedByTokenID *string
}

func (t RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

type LoginAttempt struct {
	ID          string
	Username    string
	Success     bool
	IP          string
	AttemptedAt time.Time
}

// Session is the bundle handed to the client after login or refresh.
// The raw refresh secret is never stored server side.
type Session struct {
	AccountID    string
	Username     string
	Role         string
	AccessToken  string
	RefreshToken string
	CSRFToken    string
	ExpiresIn    int64
}

type ClientInfo struct {
	IP        string
	UserAgent string
}

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
	DeletedIPLimits      int64 `json:"deleted_ip_limits"`
}
