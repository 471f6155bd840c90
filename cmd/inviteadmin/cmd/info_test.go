package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestInfoCommandShowsRecord(t *testing.T) {
	store := withMemoryStore(t)
	inv, err := store.Generate(context.Background(), time.Hour, 1, "crew-b", "", "")
	if err != nil {
		t.Fatalf("seed generate: %v", err)
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"info", inv.Token})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, inv.Token) {
		t.Errorf("info should echo token, got: %s", out)
	}
	if !strings.Contains(out, "status:      pending") {
		t.Errorf("info should show pending status, got: %s", out)
	}
}

func TestInfoCommandUnknownTokenErrors(t *testing.T) {
	withMemoryStore(t)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"info", "does-not-exist"})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for unknown token")
	}
}
