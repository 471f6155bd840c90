package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsWithinLimit(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Stop()

	base := time.Now()
	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4", base.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
}

func TestLimiterRejectsOverLimit(t *testing.T) {
	l := New(2, time.Minute)
	defer l.Stop()

	base := time.Now()
	if !l.Allow("1.2.3.4", base) {
		t.Fatal("first event should be allowed")
	}
	if !l.Allow("1.2.3.4", base.Add(time.Second)) {
		t.Fatal("second event should be allowed")
	}
	if l.Allow("1.2.3.4", base.Add(2*time.Second)) {
		t.Fatal("third event should be rejected")
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Stop()

	base := time.Now()
	if !l.Allow("k", base) {
		t.Fatal("first event should be allowed")
	}
	if l.Allow("k", base.Add(30*time.Second)) {
		t.Fatal("second event inside window should be rejected")
	}
	if !l.Allow("k", base.Add(61*time.Second)) {
		t.Fatal("event after window should be allowed")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Stop()

	now := time.Now()
	if !l.Allow("a", now) {
		t.Fatal("key a should be allowed")
	}
	if !l.Allow("b", now) {
		t.Fatal("key b should be independent of key a")
	}
}

func TestLimiterBlockedDoesNotRecord(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Stop()

	now := time.Now()
	if l.Blocked("k", now) {
		t.Fatal("key with no events should not be blocked")
	}
	if !l.Allow("k", now) {
		t.Fatal("first event should be allowed")
	}
	if !l.Blocked("k", now.Add(time.Second)) {
		t.Fatal("key at limit should be blocked")
	}
	// Checking Blocked repeatedly must not itself consume the slot.
	if !l.Blocked("k", now.Add(2*time.Second)) {
		t.Fatal("Blocked should be idempotent and not record")
	}
	if !l.Allow("other-key", now.Add(3*time.Second)) {
		t.Fatal("an unrelated key must still be independently allowed")
	}
}

func TestLimiterReset(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Stop()

	now := time.Now()
	l.Allow("k", now)
	l.Reset("k")
	if !l.Allow("k", now.Add(time.Second)) {
		t.Fatal("event after reset should be allowed")
	}
}
