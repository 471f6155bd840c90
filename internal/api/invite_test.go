package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/demolab/sessionbroker/internal/domain"
	"github.com/demolab/sessionbroker/internal/invite"
	"github.com/demolab/sessionbroker/internal/kv"
	"github.com/demolab/sessionbroker/internal/ratelimit"
)

func TestInviteValidateAcceptsGoodToken(t *testing.T) {
	guard := ratelimit.New(100, time.Minute)
	defer guard.Stop()
	store := invite.New(kv.NewMemory(), guard)
	inv, err := store.Generate(context.Background(), time.Hour, 1, "", "", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	h := NewInviteHandler(store)
	r := httptest.NewRequest(http.MethodGet, "/api/invite/validate", nil)
	r.Header.Set("X-Invite-Token", inv.Token)
	w := httptest.NewRecorder()

	h.Validate(w, r)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Result().StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %+v", body)
	}
}

func TestInviteValidateReportsReasonForMissingToken(t *testing.T) {
	guard := ratelimit.New(100, time.Minute)
	defer guard.Stop()
	store := invite.New(kv.NewMemory(), guard)

	h := NewInviteHandler(store)
	r := httptest.NewRequest(http.MethodGet, "/api/invite/validate", nil)
	w := httptest.NewRecorder()

	h.Validate(w, r)

	var body domain.InviteInvalidEvent
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Reason != domain.InviteReasonMissing {
		t.Fatalf("expected missing reason, got %+v", body)
	}
}
