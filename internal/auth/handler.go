package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"

	"tasks-auth/internal/audit"
	"tasks-auth/internal/config"
	"tasks-auth/internal/observability"
)

const maxFormBodyBytes = 1 << 20

type Handler struct {
	store   Store
	manager *Manager
	cookies cookieWriter
	audit   *audit.Logger
	logger  *observability.Logger
}

func NewHandler(store Store, manager *Manager, cfg config.Config, auditLog *audit.Logger, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{
		store:   store,
		manager: manager,
		cookies: cookieWriter{
			settings:   cfg.Cookies,
			accessTTL:  cfg.AccessTokenTTL,
			refreshTTL: cfg.RefreshTokenTTL,
		},
		audit:  auditLog,
		logger: logger,
	}
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	CSRFToken   string `json:"csrf_token"`
}

type accountResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Disabled bool   `json:"disabled"`
}

type identityResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	username, password, ok := h.readCredentials(w, r)
	if !ok {
		return
	}

	var session Session
	err := Transact(r.Context(), h.store, func(tx Tx) error {
		var err error
		session, err = h.manager.Login(r.Context(), tx, username, password, clientInfo(r))
		return err
	})
	if err != nil {
		h.writeAuthError(w, r, err, "failed to login")
		return
	}

	h.cookies.setSession(w, session)
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	username, password, ok := h.readCredentials(w, r)
	if !ok {
		return
	}

	var account Account
	err := Transact(r.Context(), h.store, func(tx Tx) error {
		var err error
		account, err = h.manager.Register(r.Context(), tx, RegisterInput{Username: username, Password: password}, clientInfo(r))
		return err
	})
	if err != nil {
		h.writeAuthError(w, r, err, "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse{
		ID:       account.ID,
		Username: account.Username,
		Role:     account.Role,
		Disabled: account.Disabled,
	})
}

// Refresh expects RequireCSRF upstream.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var raw string
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		raw = cookie.Value
	}

	var session Session
	err := Transact(r.Context(), h.store, func(tx Tx) error {
		var err error
		session, err = h.manager.Refresh(r.Context(), tx, raw, clientInfo(r))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			h.cookies.clear(w)
		}
		h.writeAuthError(w, r, err, "failed to refresh token")
		return
	}

	h.cookies.setSession(w, session)
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

// Logout expects RequireAuth and RequireCSRF upstream.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	var raw string
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		raw = cookie.Value
	}

	h.cookies.clear(w)

	err := Transact(r.Context(), h.store, func(tx Tx) error {
		return h.manager.Logout(r.Context(), tx, identity.Identity, raw, clientInfo(r))
	})
	if err != nil {
		h.writeAuthError(w, r, err, "failed to logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	writeJSON(w, http.StatusOK, identityResponse{
		ID:       identity.Subject,
		Username: identity.Username,
		Role:     identity.Role,
	})
}

func (h *Handler) readCredentials(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return "", "", false
	}

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return "", "", false
	}

	return username, password, true
}

func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var locked ErrAccountLocked
	var invalid ValidationError

	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter.Seconds())))
		writeError(w, http.StatusLocked, locked.Error())
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "username already exists")
	default:
		h.logger.Error("auth request failed", map[string]any{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func newSessionResponse(session Session) sessionResponse {
	return sessionResponse{
		AccessToken: session.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   session.ExpiresIn,
		CSRFToken:   session.CSRFToken,
	}
}

func clientInfo(r *http.Request) ClientInfo {
	userAgent := r.UserAgent()
	if userAgent == "" {
		userAgent = "unknown"
	}
	return ClientInfo{IP: observability.ClientIP(r), UserAgent: userAgent}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
