// Package identity extracts the caller-identifying details — remote
// address and user agent — that the Gateway and HTTP API both need to bind
// sessions and invites to the client that requested them.
package identity

import (
	"net"
	"net/http"
	"strings"
)

// SessionCookieName is the cookie the cookie-set endpoint issues and the
// session-validation endpoint reads back.
const SessionCookieName = "sb_session"

// SessionHeaderName is the response header the session-validation endpoint
// sets on success, for the reverse proxy's own downstream logging.
const SessionHeaderName = "X-Session-ID"

// RemoteAddr returns the caller's address for rate-limiting and
// token-binding purposes. A single left-most X-Forwarded-For entry is
// trusted, matching the reverse-proxy deployment the session-validation
// endpoint is documented against (§6); otherwise the raw socket peer.
func RemoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UserAgent returns the caller's declared user agent, truncated defensively
// since it is stored alongside session/invite audit records.
func UserAgent(r *http.Request) string {
	ua := r.UserAgent()
	const maxLen = 256
	if len(ua) > maxLen {
		return ua[:maxLen]
	}
	return ua
}
