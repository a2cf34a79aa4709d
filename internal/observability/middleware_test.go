package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClientIPIgnoresForwardedForWithoutTrustedProxy(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:5123"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")

	require.Equal(t, "10.0.0.9", ClientIP(r))
	require.Equal(t, "10.0.0.9", resolvedIP(r, 0))
}

func TestClientIPTakesHopAppendedByTrustedProxy(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.99, 203.0.113.7")

	require.Equal(t, "203.0.113.7", resolvedIP(r, 1))
	require.Equal(t, "198.51.100.99", resolvedIP(r, 2))
	require.Equal(t, "198.51.100.99", resolvedIP(r, 3))

	r.Header.Del("X-Forwarded-For")
	require.Equal(t, "10.0.0.1", resolvedIP(r, 1))
}

func resolvedIP(r *http.Request, trustedHops int) string {
	var got string
	ClientIPMiddleware(trustedHops, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	})).ServeHTTP(httptest.NewRecorder(), r)
	return got
}

func TestRequestLoggingLevelByStatus(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewLoggerFrom(zap.New(core))

	handler := RequestLoggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	require.Equal(t, zap.WarnLevel, entries[0].Level)
	require.EqualValues(t, http.StatusUnauthorized, entries[0].ContextMap()["status"])
}

func TestRecoverMiddleware(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewLoggerFrom(zap.New(core))

	handler := RecoverMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, logs.FilterMessage("panic_recovered").Len())
}
