package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckCSRF(t *testing.T) {
	cases := []struct {
		name   string
		cookie string
		header string
		ok     bool
	}{
		{name: "match", cookie: "abc123", header: "abc123", ok: true},
		{name: "mismatch", cookie: "abc123", header: "abc124"},
		{name: "missing header", cookie: "abc123"},
		{name: "missing cookie", header: "abc123"},
		{name: "both missing"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: tc.cookie})
			}
			if tc.header != "" {
				req.Header.Set(CSRFHeaderName, tc.header)
			}

			err := CheckCSRF(req)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}
