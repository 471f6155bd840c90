package terminalproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFakeMultiplexer(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "multiplexer.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write fake multiplexer: %v", err)
	}
	return path
}

func TestSpawnAndDoneOnExit(t *testing.T) {
	bin := writeFakeMultiplexer(t, "sleep 0.05\nexit 0\n")
	l := New(Config{BinaryPath: bin})

	h, err := l.Spawn(context.Background(), "sess-1", "container-1", "/tmp/creds.env", 60)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected process to exit within timeout")
	}
}

func TestTerminateSendsSignalOnce(t *testing.T) {
	bin := writeFakeMultiplexer(t, "trap 'exit 0' TERM\nsleep 5 &\nwait\n")
	l := New(Config{BinaryPath: bin})

	h, err := l.Spawn(context.Background(), "sess-1", "container-1", "/tmp/creds.env", 60)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := h.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	// Second call must be a no-op, not an error.
	if err := h.Terminate(); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected process to exit after SIGTERM")
	}
}
