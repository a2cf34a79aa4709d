package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess = "access"

	refreshSecretBytes = 64
	csrfTokenBytes     = 32
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is what an access token asserts about its bearer.
type Identity struct {
	Subject  string
	Username string
	Role     string
}

type AccessClaims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

func (c AccessClaims) Identity() Identity {
	return Identity{Subject: c.Subject, Username: c.Username, Role: c.Role}
}

type Codec struct {
	secret []byte
	now    func() time.Time
}

type Option func(*Codec)

func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCodec(secret string, opts ...Option) *Codec {
	c := &Codec{
		secret: []byte(secret),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) CreateAccessToken(identity Identity, ttl time.Duration) (string, error) {
	now := c.now()
	claims := AccessClaims{
		Username: identity.Username,
		Role:     identity.Role,
		Type:     TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}

// DecodeAccessToken rejects bad signatures, other algorithms, missing or past
// expiry and any token whose type claim is not "access".
func (c *Codec) DecodeAccessToken(tokenStr string) (AccessClaims, error) {
	var claims AccessClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.Type != TypeAccess || claims.Subject == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	return claims, nil
}

// CreateRefreshSecret returns 512 bits of randomness, URL-safe encoded.
func (c *Codec) CreateRefreshSecret() (string, error) {
	return randomToken(refreshSecretBytes)
}

func (c *Codec) CreateCSRFToken() (string, error) {
	return randomToken(csrfTokenBytes)
}

// HashOpaque is the lookup key stored in place of a raw refresh secret.
func (c *Codec) HashOpaque(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
