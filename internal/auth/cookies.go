package auth

import (
	"net/http"
	"time"

	"tasks-auth/internal/config"
)

const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"
	CSRFCookieName    = "csrf_token"
)

type cookieWriter struct {
	settings   config.Cookies
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func (c cookieWriter) setSession(w http.ResponseWriter, session Session) {
	http.SetCookie(w, c.cookie(AccessCookieName, session.AccessToken, c.accessTTL, true))
	http.SetCookie(w, c.cookie(RefreshCookieName, session.RefreshToken, c.refreshTTL, true))
	http.SetCookie(w, c.cookie(CSRFCookieName, session.CSRFToken, c.accessTTL, false))
}

func (c cookieWriter) clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, RefreshCookieName, CSRFCookieName} {
		cookie := c.cookie(name, "", 0, name != CSRFCookieName)
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		http.SetCookie(w, cookie)
	}
}

func (c cookieWriter) cookie(name, value string, ttl time.Duration, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.settings.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: httpOnly,
		Secure:   c.settings.Secure,
		SameSite: c.settings.SameSite,
	}
}
