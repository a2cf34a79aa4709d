package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"tasks-auth/internal/audit"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	auditLog := audit.New(zap.New(core), 16)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(2, time.Minute, WithClock(clock.Now))
	handler := Middleware(limiter, "/auth/login", auditLog, nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send().Code)
	require.Equal(t, http.StatusOK, send().Code)

	rec := send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))

	auditLog.Close()
	entries := logs.FilterField(zap.String("event", string(audit.EventRateLimitExceeded))).All()
	require.Len(t, entries, 1)
	require.Equal(t, "203.0.113.7", entries[0].ContextMap()["ip"])
}

func TestMiddlewareFailsOpen(t *testing.T) {
	called := false
	handler := Middleware(failingLimiter{}, "/auth/register", nil, nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", nil))
	require.True(t, called)
	require.Equal(t, http.StatusCreated, rec.Code)
}
