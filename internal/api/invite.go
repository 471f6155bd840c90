package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/demolab/sessionbroker/internal/domain"
	"github.com/demolab/sessionbroker/internal/identity"
	"github.com/demolab/sessionbroker/internal/invite"
)

// InviteHandler serves the invite-validation endpoint.
type InviteHandler struct {
	invites *invite.Store
}

// NewInviteHandler returns an InviteHandler.
func NewInviteHandler(invites *invite.Store) *InviteHandler {
	return &InviteHandler{invites: invites}
}

// RegisterRoutes registers the invite endpoints.
func (h *InviteHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/invite/validate", h.Validate)
}

// Validate consults the Invite Store for the token presented as either the
// X-Invite-Token header or a token query parameter.
func (h *InviteHandler) Validate(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Invite-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	inv, err := h.invites.Validate(r.Context(), token, identity.RemoteAddr(r))
	if err != nil {
		var verr *invite.ValidationError
		if errors.As(err, &verr) {
			JSON(w, http.StatusOK, domain.InviteInvalidEvent{
				Type:    domain.EventInviteInvalid,
				Reason:  string(verr.Reason),
				Message: verr.Message,
			})
			return
		}
		slog.Error("api: invite validation error", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"token":  inv.Token,
	})
}
