package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/demolab/sessionbroker/internal/identity"
)

// SessionValidator checks a presented session token against the
// Supervisor's current session. Satisfied by *supervisor.Supervisor.
type SessionValidator interface {
	ValidateSessionToken(token, remoteAddr string) (sessionID string, ok bool)
}

// CookieLimiter rate-limits the cookie-set endpoint per §4.5. Satisfied by
// *ratelimit.Limiter.
type CookieLimiter interface {
	Allow(key string, now time.Time) bool
}

// CookieConfig controls the cookie the cookie-set endpoint issues.
type CookieConfig struct {
	MaxAge        time.Duration
	IsDevelopment bool
}

// SessionHandler serves the cookie-set and session-validation endpoints.
type SessionHandler struct {
	validator SessionValidator
	limiter   CookieLimiter
	cfg       CookieConfig
}

// NewSessionHandler returns a SessionHandler.
func NewSessionHandler(validator SessionValidator, limiter CookieLimiter, cfg CookieConfig) *SessionHandler {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 12 * time.Hour
	}
	return &SessionHandler{validator: validator, limiter: limiter, cfg: cfg}
}

// RegisterRoutes registers the session endpoints.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Post("/cookie", h.SetCookie)
		r.Get("/validate", h.ValidateSession)
	})
}

type setCookieRequest struct {
	Token string `json:"token"`
}

// SetCookie verifies the posted token against the current session and,
// on a remote-address match, sets the session cookie.
func (h *SessionHandler) SetCookie(w http.ResponseWriter, r *http.Request) {
	remoteAddr := identity.RemoteAddr(r)

	if h.limiter != nil && !h.limiter.Allow(remoteAddr, time.Now()) {
		Error(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req setCookieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		Error(w, http.StatusBadRequest, "missing token")
		return
	}

	sessionID, ok := h.validator.ValidateSessionToken(req.Token, remoteAddr)
	if !ok {
		Error(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     identity.SessionCookieName,
		Value:    req.Token,
		Path:     "/",
		MaxAge:   int(h.cfg.MaxAge.Seconds()),
		Expires:  time.Now().Add(h.cfg.MaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   !h.cfg.IsDevelopment,
	})

	slog.Info("session cookie issued", "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ValidateSession checks the session cookie against the current session,
// for a reverse proxy gating access to a dashboard.
func (h *SessionHandler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(identity.SessionCookieName)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	sessionID, ok := h.validator.ValidateSessionToken(cookie.Value, identity.RemoteAddr(r))
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set(identity.SessionHeaderName, sessionID)
	w.WriteHeader(http.StatusOK)
}
