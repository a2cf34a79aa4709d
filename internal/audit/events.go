package audit

func (l *Logger) LoginSuccess(username, accountID, ip, userAgent string) {
	if userAgent == "" {
		userAgent = "unknown"
	}
	l.Emit(Event{Type: EventLoginSuccess, Username: username, AccountID: accountID, IP: ip, UserAgent: userAgent})
}

func (l *Logger) LoginFailure(username, ip, reason string) {
	l.Emit(Event{Type: EventLoginFailure, Severity: SeverityWarning, Username: username, IP: ip, Reason: reason})
}

func (l *Logger) LoginDeniedLocked(username, ip string) {
	l.Emit(Event{Type: EventLoginDeniedLocked, Severity: SeverityWarning, Username: username, IP: ip, Reason: "account_locked"})
}

func (l *Logger) AccountLocked(username, ip string, failedAttempts int) {
	l.Emit(Event{
		Type:     EventAccountLocked,
		Severity: SeverityWarning,
		Username: username,
		IP:       ip,
		Fields:   map[string]any{"failed_attempts": failedAttempts},
	})
}

func (l *Logger) AccountUnlocked(username, method string) {
	l.Emit(Event{Type: EventAccountUnlocked, Username: username, Fields: map[string]any{"method": method}})
}

func (l *Logger) TokenRefresh(username, ip string) {
	l.Emit(Event{Type: EventTokenRefresh, Username: username, IP: ip})
}

func (l *Logger) TokenRefreshInvalid(ip, reason string) {
	l.Emit(Event{Type: EventTokenRefreshInvalid, Severity: SeverityWarning, IP: ip, Reason: reason})
}

func (l *Logger) TokenReuseDetected(username, accountID, ip string, revoked int64) {
	l.Emit(Event{
		Type:      EventTokenReuseDetected,
		Severity:  SeverityCritical,
		Username:  username,
		AccountID: accountID,
		IP:        ip,
		Fields:    map[string]any{"revoked_tokens": revoked},
	})
}

func (l *Logger) Logout(username, ip string) {
	l.Emit(Event{Type: EventLogout, Username: username, IP: ip})
}

func (l *Logger) Registration(username, ip string) {
	l.Emit(Event{Type: EventUserRegistered, Username: username, IP: ip})
}

func (l *Logger) PasswordRehashed(username string) {
	l.Emit(Event{Type: EventPasswordRehashed, Username: username})
}

func (l *Logger) RateLimitExceeded(ip, endpoint string) {
	l.Emit(Event{Type: EventRateLimitExceeded, Severity: SeverityWarning, IP: ip, Fields: map[string]any{"endpoint": endpoint}})
}

func (l *Logger) CSRFFailure(ip, endpoint string) {
	l.Emit(Event{Type: EventCSRFFailure, Severity: SeverityWarning, IP: ip, Fields: map[string]any{"endpoint": endpoint}})
}

func (l *Logger) UnauthorizedAccess(ip, resource string) {
	l.Emit(Event{Type: EventUnauthorizedAccess, Severity: SeverityWarning, IP: ip, Fields: map[string]any{"resource": resource}})
}
