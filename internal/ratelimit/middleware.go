package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"tasks-auth/internal/audit"
	"tasks-auth/internal/observability"
)

// Middleware throttles next per client IP. Limiter failures let the request through.
func Middleware(limiter Limiter, endpoint string, auditLog *audit.Logger, logger *observability.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		allowed, retryAfter, err := limiter.Allow(r.Context(), ip)
		if err != nil {
			logger.Error("rate limiter unavailable", map[string]any{
				"endpoint": endpoint,
				"error":    err.Error(),
			})
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			auditLog.RateLimitExceeded(ip, endpoint)
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
