package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/demolab/sessionbroker/internal/domain"
)

func TestListCommandShowsGeneratedInvites(t *testing.T) {
	store := withMemoryStore(t)
	inv, err := store.Generate(context.Background(), time.Hour, 1, "crew-a", "", "")
	if err != nil {
		t.Fatalf("seed generate: %v", err)
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"list"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, inv.Token) {
		t.Errorf("listing should include generated token, got: %s", out)
	}
	if !strings.Contains(out, "crew-a") {
		t.Errorf("listing should include label, got: %s", out)
	}
}

func TestListCommandFiltersByStatus(t *testing.T) {
	store := withMemoryStore(t)
	if _, err := store.Generate(context.Background(), time.Hour, 1, "", "", ""); err != nil {
		t.Fatalf("seed generate: %v", err)
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"list", "--status", string(domain.InviteStatusUsed)})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "no invites found") {
		t.Errorf("filtering to an unused status should report no invites, got: %s", out)
	}
}
