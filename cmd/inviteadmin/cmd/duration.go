package cmd

import (
	"fmt"
	"strconv"
	"time"
)

// parseExpiry parses the duration grammar of §6: an integer followed by a
// unit in {m, h, d, w}. time.ParseDuration doesn't support d/w, so this is
// a small dedicated parser rather than a stdlib call.
func parseExpiry(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration %q: want <integer><m|h|d|w>", s)
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid duration %q: want <integer><m|h|d|w>", s)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid duration unit %q: want one of m, h, d, w", string(unit))
	}
}
