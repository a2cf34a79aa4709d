package auth

import (
	"context"
	"net/http"

	"tasks-auth/internal/audit"
	"tasks-auth/internal/observability"
)

type identityContextKey struct{}

func WithIdentity(ctx context.Context, identity ResolvedIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (ResolvedIdentity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(ResolvedIdentity)
	return identity, ok
}

// RequireAuth rejects requests without a valid access token.
func RequireAuth(resolver *IdentityResolver, auditLog *audit.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := resolver.Resolve(r)
		if err != nil {
			auditLog.UnauthorizedAccess(observability.ClientIP(r), r.URL.Path)
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func RequireCSRF(auditLog *audit.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := CheckCSRF(r); err != nil {
			auditLog.CSRFFailure(observability.ClientIP(r), r.URL.Path)
			writeError(w, http.StatusForbidden, "csrf token missing or invalid")
			return
		}

		next.ServeHTTP(w, r)
	})
}
