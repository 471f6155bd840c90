package cmd

import (
	"testing"
	"time"
)

func TestParseExpiryUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30m": 30 * time.Minute,
		"2h":  2 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := parseExpiry(in)
		if err != nil {
			t.Fatalf("parseExpiry(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseExpiry(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseExpiryRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "5", "5x", "-3h", "abc"} {
		if _, err := parseExpiry(in); err == nil {
			t.Errorf("parseExpiry(%q) expected error, got nil", in)
		}
	}
}
