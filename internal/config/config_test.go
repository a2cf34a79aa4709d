package config

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "memory")
	t.Setenv("JWT_SECRET", testSecret)
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	require.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, 5, cfg.LockoutThreshold)
	require.Equal(t, 30*time.Minute, cfg.LockoutDuration)
	require.Equal(t, RateLimit{Max: 5, Window: 15 * time.Minute}, cfg.LoginRateLimit)
	require.Equal(t, RateLimit{Max: 5, Window: 15 * time.Minute}, cfg.RegisterRateLimit)
	require.Equal(t, []string{SourceHeader, SourceCookie}, cfg.TokenSources)
	require.Equal(t, http.SameSiteStrictMode, cfg.Cookies.SameSite)
	require.True(t, cfg.Cookies.Secure)
	require.Zero(t, cfg.TrustedProxyHops)
	require.True(t, cfg.UsesMemoryStore())
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", testSecret)

	_, err := Load(Options{})
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "memory")
	t.Setenv("JWT_SECRET", "short")

	_, err := Load(Options{})
	require.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LOGIN_MAX_ATTEMPTS", "3")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "5")
	t.Setenv("AUTH_TOKEN_SOURCES", "cookie, header")
	t.Setenv("COOKIE_SAMESITE", "lax")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("TRUSTED_PROXY_HOPS", "1")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	require.Equal(t, 3, cfg.LockoutThreshold)
	require.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, []string{SourceCookie, SourceHeader}, cfg.TokenSources)
	require.Equal(t, http.SameSiteLaxMode, cfg.Cookies.SameSite)
	require.False(t, cfg.Cookies.Secure)
	require.Equal(t, 1, cfg.TrustedProxyHops)
}

func TestLoadFileThenEnv(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "auth.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
login_max_attempts = 7
login_lock_minutes = 45
token_sources = ["cookie"]
`), 0o600))
	t.Setenv("AUTH_CONFIG_FILE", path)
	t.Setenv("LOGIN_LOCK_MINUTES", "10")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	require.Equal(t, 7, cfg.LockoutThreshold)
	require.Equal(t, 10*time.Minute, cfg.LockoutDuration)
	require.Equal(t, []string{SourceCookie}, cfg.TokenSources)
}

func TestValidateRedisBackendNeedsURL(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_LIMIT_BACKEND", "redis")

	_, err := Load(Options{})
	require.ErrorContains(t, err, "REDIS_URL")
}

func TestValidateAdminPair(t *testing.T) {
	setRequired(t)
	t.Setenv("ADMIN_USERNAME", "root")

	_, err := Load(Options{})
	require.ErrorContains(t, err, "ADMIN_PASSWORD")
}

func TestValidateUnknownTokenSource(t *testing.T) {
	setRequired(t)
	t.Setenv("AUTH_TOKEN_SOURCES", "query")

	_, err := Load(Options{})
	require.ErrorContains(t, err, "token source")
}

func TestValidateNegativeProxyHops(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "auth.toml")
	require.NoError(t, os.WriteFile(path, []byte("trusted_proxy_hops = -1\n"), 0o600))
	t.Setenv("AUTH_CONFIG_FILE", path)

	_, err := Load(Options{})
	require.ErrorContains(t, err, "TRUSTED_PROXY_HOPS")
}
