package auth

import (
	"net/http"
	"strings"

	"tasks-auth/internal/config"
	"tasks-auth/internal/token"
)

// ResolvedIdentity is the caller identity plus where its token came from.
type ResolvedIdentity struct {
	token.Identity
	Source string
}

type IdentityResolver struct {
	codec   *token.Codec
	sources []string
}

func NewIdentityResolver(codec *token.Codec, sources []string) *IdentityResolver {
	if len(sources) == 0 {
		sources = []string{config.SourceHeader, config.SourceCookie}
	}
	return &IdentityResolver{codec: codec, sources: sources}
}

// Resolve reads the access token from the first configured source that
// carries one. A present but invalid token fails without falling through.
func (r *IdentityResolver) Resolve(req *http.Request) (ResolvedIdentity, error) {
	for _, source := range r.sources {
		raw, present, err := extractToken(req, source)
		if err != nil {
			return ResolvedIdentity{}, err
		}
		if !present {
			continue
		}

		claims, err := r.codec.DecodeAccessToken(raw)
		if err != nil {
			return ResolvedIdentity{}, ErrUnauthenticated
		}
		return ResolvedIdentity{Identity: claims.Identity(), Source: source}, nil
	}

	return ResolvedIdentity{}, ErrUnauthenticated
}

func extractToken(req *http.Request, source string) (string, bool, error) {
	switch source {
	case config.SourceHeader:
		header := strings.TrimSpace(req.Header.Get("Authorization"))
		if header == "" {
			return "", false, nil
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false, ErrUnauthenticated
		}
		return strings.TrimSpace(parts[1]), true, nil
	case config.SourceCookie:
		cookie, err := req.Cookie(AccessCookieName)
		if err != nil || cookie.Value == "" {
			return "", false, nil
		}
		return cookie.Value, true, nil
	default:
		return "", false, nil
	}
}
