package sessiontoken

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "01234567890123456789012345678901"

func TestMintVerifyRoundTrip(t *testing.T) {
	m := New(testSecret)
	tok := m.Mint("session-123", time.Now().Add(time.Hour))

	id, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id != "session-123" {
		t.Fatalf("got session id %q, want %q", id, "session-123")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := New(testSecret)
	tok := m.Mint("session-123", time.Now().Add(-time.Minute))

	id, err := m.Verify(tok)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if id != "session-123" {
		t.Fatalf("expired verify should still return session id, got %q", id)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	m := New(testSecret)
	tok := m.Mint("session-123", time.Now().Add(time.Hour))

	tampered := tok[:len(tok)-1] + "x"
	if _, err := m.Verify(tampered); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	m := New(testSecret)

	cases := []string{"", "nodotsatall", "a.b", "a.b.c.d.e"}
	for _, c := range cases {
		if _, err := m.Verify(c); err == nil {
			t.Fatalf("Verify(%q) should have failed", c)
		}
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	m1 := New(testSecret)
	m2 := New("99999999999999999999999999999999")

	tok := m1.Mint("session-123", time.Now().Add(time.Hour))
	if _, err := m2.Verify(tok); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature across secrets, got %v", err)
	}
}

func TestNewPanicsOnShortSecret(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for short secret")
		}
	}()
	New("too-short")
}

func TestMintTokenHasThreeSegments(t *testing.T) {
	m := New(testSecret)
	tok := m.Mint("session-123", time.Now().Add(time.Hour))
	if strings.Count(tok, ".") != 2 {
		t.Fatalf("expected exactly two dot separators, got token %q", tok)
	}
}
