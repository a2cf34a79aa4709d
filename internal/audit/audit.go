// Package audit emits security events without ever blocking the caller.
//
// Events are queued on a bounded buffer and written by a single background
// goroutine through zap. When the buffer is full the event is dropped and
// counted, and the running total is logged at most once a minute and again on
// Close. Critical events are also reported to Sentry.
package audit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type EventType string

const (
	EventLoginSuccess        EventType = "login_success"
	EventLoginFailure        EventType = "login_failure"
	EventLoginDeniedLocked   EventType = "login_denied_locked"
	EventAccountLocked       EventType = "account_locked"
	EventAccountUnlocked     EventType = "account_unlocked"
	EventTokenRefresh        EventType = "token_refresh"
	EventTokenRefreshInvalid EventType = "token_refresh_invalid"
	EventTokenReuseDetected  EventType = "token_reuse_detected"
	EventLogout              EventType = "logout"
	EventUserRegistered      EventType = "user_registered"
	EventPasswordRehashed    EventType = "password_rehashed"
	EventRateLimitExceeded   EventType = "rate_limit_exceeded"
	EventCSRFFailure         EventType = "csrf_validation_failure"
	EventUnauthorizedAccess  EventType = "unauthorized_access"
)

const defaultBufferSize = 1024

type Event struct {
	Type      EventType
	Severity  Severity
	Timestamp time.Time
	Username  string
	AccountID string
	IP        string
	UserAgent string
	Reason    string
	Fields    map[string]any
}

type Logger struct {
	base    *zap.Logger
	system  *zap.Logger
	events  chan Event
	done    chan struct{}
	capture func(Event)

	mu      sync.RWMutex
	closed  bool
	dropped  atomic.Int64
	dropWarn rate.Sometimes
}

type Option func(*Logger)

// WithCapture replaces the Sentry reporter used for critical events.
func WithCapture(capture func(Event)) Option {
	return func(l *Logger) {
		l.capture = capture
	}
}

func New(base *zap.Logger, bufferSize int, opts ...Option) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	l := &Logger{
		base:     base.With(zap.Bool("audit", true)),
		system:   base,
		events:   make(chan Event, bufferSize),
		done:     make(chan struct{}),
		capture:  captureToSentry,
		dropWarn: rate.Sometimes{Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.run()
	return l
}

// Emit queues e and returns immediately.
func (l *Logger) Emit(e Event) {
	if l == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.drop(e)
		return
	}

	select {
	case l.events <- e:
	default:
		l.drop(e)
	}
}

func (l *Logger) drop(e Event) {
	total := l.dropped.Add(1)
	l.dropWarn.Do(func() {
		l.system.Warn("audit_events_dropped",
			zap.String("last_event", string(e.Type)),
			zap.Int64("dropped_total", total),
		)
	})
}

func (l *Logger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain.
func (l *Logger) Close() {
	if l == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()

	<-l.done
	if dropped := l.dropped.Load(); dropped > 0 {
		l.system.Warn("audit_events_dropped", zap.Int64("dropped_total", dropped))
	}
	_ = l.base.Sync()
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.events {
		l.write(e)
	}
}

func (l *Logger) write(e Event) {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("severity", string(e.Severity)),
		zap.Time("event_time", e.Timestamp),
	}
	if e.Username != "" {
		fields = append(fields, zap.String("user", e.Username))
	}
	if e.AccountID != "" {
		fields = append(fields, zap.String("account_id", e.AccountID))
	}
	if e.IP != "" {
		fields = append(fields, zap.String("ip", e.IP))
	}
	if e.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", e.UserAgent))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	for k, v := range e.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	switch e.Severity {
	case SeverityCritical, SeverityError:
		l.base.Error("audit_event", fields...)
	case SeverityWarning:
		l.base.Warn("audit_event", fields...)
	default:
		l.base.Info("audit_event", fields...)
	}

	if e.Severity == SeverityCritical && l.capture != nil {
		l.capture(e)
	}
}

func captureToSentry(e Event) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("audit_event", string(e.Type))
		scope.SetTag("user", e.Username)
		scope.SetTag("ip", e.IP)
		sentry.CaptureMessage("audit: " + string(e.Type))
	})
}
