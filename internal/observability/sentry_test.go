package observability

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/require"

	"tasks-auth/internal/config"
)

func TestScrubEventRemovesSessionMaterial(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{
		URL:     "https://auth.example.com/auth/refresh",
		Method:  "POST",
		Data:    "username=alice&password=Str0ngPass!word",
		Cookies: "refresh_token=secret; csrf_token=csrf",
		Headers: map[string]string{
			"Authorization": "Bearer token",
			"Cookie":        "refresh_token=secret",
			"X-Csrf-Token":  "csrf",
			"User-Agent":    "test-agent",
		},
	}}

	scrubbed := scrubEvent(event)
	require.Empty(t, scrubbed.Request.Data)
	require.Empty(t, scrubbed.Request.Cookies)
	require.Equal(t, map[string]string{"User-Agent": "test-agent"}, scrubbed.Request.Headers)
	require.Equal(t, "POST", scrubbed.Request.Method)
}

func TestScrubEventWithoutRequest(t *testing.T) {
	event := &sentry.Event{Message: "panic in request"}
	require.Same(t, event, scrubEvent(event))
	require.Nil(t, scrubEvent(nil))
}

func TestInitSentryWithoutDSNIsNoop(t *testing.T) {
	require.NoError(t, InitSentry(config.Config{Env: "test"}))
}
