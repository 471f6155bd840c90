// Package resethook invokes the external data-reset script after a session
// ends, restoring the sandbox's backing data to a clean state. Building or
// maintaining that script is out of scope: this package only launches it
// and records its outcome.
package resethook

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// InviteNoter attaches a failure note to an invite's most recent audit
// record. Satisfied by *invite.Store.
type InviteNoter interface {
	AppendError(ctx context.Context, token, message string) error
}

// Config points at the external reset script and the non-secret site
// identity passed to it.
type Config struct {
	ScriptPath string
	SiteURL    string
	Timeout    time.Duration
}

// Hook triggers the data-reset script.
type Hook struct {
	cfg    Config
	notes  InviteNoter
}

// New returns a Hook. notes may be nil if invite audit attachment is not
// needed (e.g. in tests).
func New(cfg Config, notes InviteNoter) *Hook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Hook{cfg: cfg, notes: notes}
}

// Trigger runs the configured reset script for sessionID, passing only the
// session identity and site URL — never model-provider credentials. It
// blocks the calling goroutine (callers run it asynchronously via `go`) but
// never blocks promotion of the next session, since nothing else waits on
// it. On failure, the error is logged and, if inviteToken is non-empty,
// attached to that invite's audit trail.
func (h *Hook) Trigger(ctx context.Context, sessionID, inviteToken string) {
	if h.cfg.ScriptPath == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.cfg.ScriptPath, sessionID, h.cfg.SiteURL)
	output, err := cmd.CombinedOutput()

	if err != nil {
		msg := fmt.Sprintf("data-reset hook failed: %v", err)
		slog.Error("data-reset hook failed", "session_id", sessionID, "error", err, "output", string(output))
		if inviteToken != "" && h.notes != nil {
			if appendErr := h.notes.AppendError(ctx, inviteToken, msg); appendErr != nil {
				slog.Error("failed to attach reset-hook failure to invite audit", "error", appendErr)
			}
		}
		return
	}

	slog.Info("data-reset hook completed", "session_id", sessionID)
}
