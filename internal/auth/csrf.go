package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const CSRFHeaderName = "X-CSRF-Token"

// CheckCSRF compares the csrf_token cookie with the X-CSRF-Token header.
func CheckCSRF(r *http.Request) error {
	header := strings.TrimSpace(r.Header.Get(CSRFHeaderName))
	if header == "" {
		return ErrForbidden
	}

	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return ErrForbidden
	}

	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return ErrForbidden
	}

	return nil
}
