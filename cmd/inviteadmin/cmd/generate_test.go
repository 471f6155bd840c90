package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/demolab/sessionbroker/internal/invite"
	"github.com/demolab/sessionbroker/internal/kv"
	"github.com/demolab/sessionbroker/internal/ratelimit"
)

func withMemoryStore(t *testing.T) *invite.Store {
	t.Helper()
	guard := ratelimit.New(1<<30, time.Hour)
	t.Cleanup(guard.Stop)
	store := invite.New(kv.NewMemory(), guard)

	orig := openStore
	openStore = func(ctx context.Context) (*invite.Store, func(), error) {
		return store, func() {}, nil
	}
	t.Cleanup(func() { openStore = orig })
	return store
}

func TestGenerateCommandPrintsToken(t *testing.T) {
	withMemoryStore(t)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"generate", "--expires", "1h", "--label", "demo"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "token:") {
		t.Errorf("output should contain a token line, got: %s", out)
	}
	if !strings.Contains(out, "label:      demo") {
		t.Errorf("output should echo the label, got: %s", out)
	}
}

func TestGenerateCommandRequiresExpires(t *testing.T) {
	withMemoryStore(t)
	// Flag variables keep their values across Execute calls in one process.
	genExpires = ""

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"generate"})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error when --expires is omitted")
	}
	if !strings.Contains(err.Error(), "--expires") {
		t.Errorf("error should mention --expires, got: %v", err)
	}
}

func TestGenerateCommandRejectsCustomTokenCollision(t *testing.T) {
	store := withMemoryStore(t)
	if _, err := store.Generate(context.Background(), time.Hour, 1, "", "mytoken-vanity", ""); err != nil {
		t.Fatalf("seed generate: %v", err)
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"generate", "--expires", "1h", "--token", "mytoken-vanity"})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for colliding vanity token")
	}
}
