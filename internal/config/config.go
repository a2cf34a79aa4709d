package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	SourceHeader = "header"
	SourceCookie = "cookie"

	minSecretBytes = 32
)

type RateLimit struct {
	Max    int
	Window time.Duration
}

type Argon2 struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	RunMigrations   bool
}

type Cookies struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

type Cleanup struct {
	CronSecret            string
	RefreshRetention      time.Duration
	LoginAttemptRetention time.Duration
	BatchSize             int
}

// Config is built once at startup and passed by value afterwards.
type Config struct {
	Env       string
	Port      string
	SentryDSN string
	JWTSecret string

	Database Database

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration

	LoginRateLimit    RateLimit
	RegisterRateLimit RateLimit
	RateLimitBackend  string
	RedisURL          string

	Cookies Cookies

	// TrustedProxyHops is how many reverse proxies append to X-Forwarded-For
	// in front of the service. Zero ignores the header.
	TrustedProxyHops int

	// TokenSources lists where an access token may be read from, in priority order.
	TokenSources []string

	Argon2 Argon2

	AuditBufferSize int

	Cleanup Cleanup

	AdminUsername string
	AdminPassword string
}

type Options struct {
	LoadDotEnv bool
}

// fileConfig mirrors the optional TOML file. Environment variables win over it.
type fileConfig struct {
	Env                string   `toml:"env"`
	Port               string   `toml:"port"`
	AccessTTLMinutes   int      `toml:"access_token_ttl_minutes"`
	RefreshTTLHours    int      `toml:"refresh_token_ttl_hours"`
	LoginMaxAttempts   int      `toml:"login_max_attempts"`
	LoginLockMinutes   int      `toml:"login_lock_minutes"`
	RateLimitBackend   string   `toml:"rate_limit_backend"`
	RedisURL           string   `toml:"redis_url"`
	CookieSecure       *bool    `toml:"cookie_secure"`
	CookieSameSite     string   `toml:"cookie_samesite"`
	CookieDomain       string   `toml:"cookie_domain"`
	TokenSources       []string `toml:"token_sources"`
	AuditBufferSize    int      `toml:"audit_buffer_size"`
	Argon2MemoryKiB    int      `toml:"argon2_memory_kib"`
	Argon2Iterations   int      `toml:"argon2_iterations"`
	Argon2Parallelism  int      `toml:"argon2_parallelism"`
	LoginRateMax       int      `toml:"login_rate_limit_max"`
	LoginRateWindowSec int      `toml:"login_rate_limit_window_seconds"`
	RegisterRateMax    int      `toml:"register_rate_limit_max"`
	RegisterRateWindow int      `toml:"register_rate_limit_window_seconds"`
	TrustedProxyHops   int      `toml:"trusted_proxy_hops"`
}

func Load(options Options) (Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("AUTH_CONFIG_FILE")); path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}

	sameSite, err := parseSameSite(envOrDefault("COOKIE_SAMESITE", orString(file.CookieSameSite, "strict")))
	if err != nil {
		return Config{}, err
	}

	cookieSecure := true
	if file.CookieSecure != nil {
		cookieSecure = *file.CookieSecure
	}

	cfg := Config{
		Env:       envOrDefault("APP_ENV", orString(file.Env, "development")),
		Port:      envOrDefault("PORT", orString(file.Port, "8080")),
		SentryDSN: strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		JWTSecret: jwtSecret,
		Database: Database{
			URL:             databaseURL,
			MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
			RunMigrations:   EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
		},
		AccessTokenTTL:   envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", orInt(file.AccessTTLMinutes, 30)),
		RefreshTokenTTL:  envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", orInt(file.RefreshTTLHours, 168)),
		LockoutThreshold: envIntOrDefault("LOGIN_MAX_ATTEMPTS", orInt(file.LoginMaxAttempts, 5)),
		LockoutDuration:  envMinutesOrDefault("LOGIN_LOCK_MINUTES", orInt(file.LoginLockMinutes, 30)),
		LoginRateLimit: RateLimit{
			Max:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", orInt(file.LoginRateMax, 5)),
			Window: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", orInt(file.LoginRateWindowSec, 900)),
		},
		RegisterRateLimit: RateLimit{
			Max:    envIntOrDefault("REGISTER_RATE_LIMIT_MAX", orInt(file.RegisterRateMax, 5)),
			Window: envSecondsOrDefault("REGISTER_RATE_LIMIT_WINDOW_SECONDS", orInt(file.RegisterRateWindow, 900)),
		},
		RateLimitBackend: strings.ToLower(envOrDefault("RATE_LIMIT_BACKEND", orString(file.RateLimitBackend, BackendMemory))),
		RedisURL:         envOrDefault("REDIS_URL", file.RedisURL),
		Cookies: Cookies{
			Secure:   EnvBoolOrDefault("COOKIE_SECURE", cookieSecure),
			SameSite: sameSite,
			Domain:   envOrDefault("COOKIE_DOMAIN", file.CookieDomain),
		},
		TrustedProxyHops: envIntOrDefault("TRUSTED_PROXY_HOPS", file.TrustedProxyHops),
		TokenSources: envListOrDefault("AUTH_TOKEN_SOURCES", orList(file.TokenSources, []string{SourceHeader, SourceCookie})),
		Argon2: Argon2{
			MemoryKiB:   uint32(envIntOrDefault("ARGON2_MEMORY_KIB", orInt(file.Argon2MemoryKiB, 64*1024))),
			Iterations:  uint32(envIntOrDefault("ARGON2_ITERATIONS", orInt(file.Argon2Iterations, 3))),
			Parallelism: uint8(envIntOrDefault("ARGON2_PARALLELISM", orInt(file.Argon2Parallelism, 2))),
		},
		AuditBufferSize: envIntOrDefault("AUDIT_BUFFER_SIZE", orInt(file.AuditBufferSize, 1024)),
		Cleanup: Cleanup{
			CronSecret:            strings.TrimSpace(os.Getenv("CRON_SECRET")),
			RefreshRetention:      envDaysOrDefault("AUTH_REFRESH_TOKEN_RETENTION_DAYS", 14),
			LoginAttemptRetention: envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", 30),
			BatchSize:             envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
		},
		AdminUsername: strings.TrimSpace(os.Getenv("ADMIN_USERNAME")),
		AdminPassword: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.JWTSecret) < minSecretBytes {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretBytes)
	}

	switch c.RateLimitBackend {
	case BackendMemory, BackendPostgres:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND: %s", c.RateLimitBackend)
	}

	if c.RateLimitBackend == BackendPostgres && c.Database.URL == BackendMemory {
		return fmt.Errorf("RATE_LIMIT_BACKEND=postgres requires a postgres DATABASE_URL")
	}

	if c.TrustedProxyHops < 0 {
		return fmt.Errorf("TRUSTED_PROXY_HOPS must not be negative")
	}

	if len(c.TokenSources) == 0 {
		return fmt.Errorf("AUTH_TOKEN_SOURCES must name at least one source")
	}
	for _, source := range c.TokenSources {
		if source != SourceHeader && source != SourceCookie {
			return fmt.Errorf("unsupported token source: %s", source)
		}
	}

	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	return nil
}

// UsesMemoryStore reports whether DATABASE_URL selects the in-process store.
func (c Config) UsesMemoryStore() bool {
	return c.Database.URL == BackendMemory
}

func parseSameSite(value string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("unsupported COOKIE_SAMESITE: %s", value)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envListOrDefault(name string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}

	var cleaned []string
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return fallback
	}
	return cleaned
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func orString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func orInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func orList(value, fallback []string) []string {
	if len(value) == 0 {
		return fallback
	}
	return value
}
