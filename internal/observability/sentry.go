package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"tasks-auth/internal/config"
)

const sentryServerName = "tasks-auth"

// Headers that carry session material. They never leave the process.
var sensitiveHeaders = []string{"Authorization", "Cookie", "Set-Cookie", "X-Csrf-Token"}

func InitSentry(cfg config.Config) error {
	if cfg.SentryDSN == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Env,
		ServerName:       sentryServerName,
		AttachStacktrace: true,
		SendDefaultPII:   false,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrubEvent(event)
		},
	})
}

// scrubEvent drops cookies, credential headers and the request body, which
// holds the submitted password on login and register.
func scrubEvent(event *sentry.Event) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}

	event.Request.Cookies = ""
	event.Request.Data = ""
	for name := range event.Request.Headers {
		for _, sensitive := range sensitiveHeaders {
			if http.CanonicalHeaderKey(name) == sensitive {
				delete(event.Request.Headers, name)
			}
		}
	}
	return event
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
