// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible
// defaults. All timeouts and operational parameters are configurable.
//
// Configuration categories:
//   - Session: timeout, warning lead, hard-kill grace, reconnect grace
//   - Queue: capacity, average session length (wait-time estimate only)
//   - Invite: audit retention
//   - RateLimit: the three sliding-window thresholds of §4.5
//   - Security: the session-token HMAC secret, validated at startup
//   - Credential: the directory per-session credential files are written to
//   - KV: the durable store connection
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// weakSecrets is the closed set of known weak literals rejected at startup
// regardless of length, per §6/§7's "MUST NOT be a known weak literal".
var weakSecrets = map[string]bool{
	"changeme":                        true,
	"secret":                          true,
	"password":                        true,
	"00000000000000000000000000000000": true,
	"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa": true,
}

// SessionConfig bounds a single occupied-slot lifetime.
type SessionConfig struct {
	Timeout        time.Duration // default 60m
	WarningLead    time.Duration // default 5m
	HardKillGrace  time.Duration // default 5m
	ReconnectGrace time.Duration // default 10s (ms-configured per §6)
}

// QueueConfig bounds the admission queue.
type QueueConfig struct {
	Capacity           int // default 10
	AverageSessionMins int // default 45, wait estimate only
}

// InviteConfig holds the audit retention read from
// SB_INVITE_AUDIT_RETENTION_DAYS. The invite store does not read this
// value; it always applies its fixed invite.AuditRetention of 30 days.
type InviteConfig struct {
	AuditRetention time.Duration // default 30 days
}

// RateLimitConfig holds the three sliding-window thresholds of §4.5.
type RateLimitConfig struct {
	ConnectionOpens       int
	ConnectionWindow      time.Duration
	InviteFailures        int
	InviteFailureWindow   time.Duration
	CookieIssuance        int
	CookieIssuanceWindow  time.Duration
}

// SecurityConfig holds the session-token signing secret.
type SecurityConfig struct {
	SessionSecret string
}

// CredentialConfig controls where per-session credential files are written.
type CredentialConfig struct {
	Dir string
}

// KVConfig mirrors dmitrymomot-foundation's integration/database/redis
// Config shape: connection URL plus retry-with-backoff connect parameters.
type KVConfig struct {
	ConnectionURL  string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	ContainerRuntime string // Docker runtime: "" = default (runc), "runsc" = gVisor
	TerminalBinary   string // path to the terminal multiplexer executable
	ResetHookScript  string // path to the data-reset hook script, "" disables it
	IssueTrackerSite string // non-secret site URL passed to the data-reset hook

	Session    SessionConfig
	Queue      QueueConfig
	Invite     InviteConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	Credential CredentialConfig
	KV         KVConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		ContainerRuntime: getEnv("CONTAINER_RUNTIME", ""),
		TerminalBinary:   getEnv("TERMINAL_BINARY_PATH", "/usr/local/bin/session-terminal"),
		ResetHookScript:  getEnv("RESET_HOOK_SCRIPT", ""),
		IssueTrackerSite: getEnv("ISSUE_TRACKER_SITE_URL", ""),

		Session: SessionConfig{
			Timeout:        getEnvDuration("SB_SESSION_TIMEOUT", 60*time.Minute),
			WarningLead:    getEnvDuration("SB_SESSION_WARNING_LEAD", 5*time.Minute),
			HardKillGrace:  getEnvDuration("SB_SESSION_HARD_KILL_GRACE", 5*time.Minute),
			ReconnectGrace: getEnvDurationMillis("SB_SESSION_RECONNECT_GRACE_MS", 10*time.Second),
		},
		Queue: QueueConfig{
			Capacity:           getEnvInt("SB_QUEUE_CAPACITY", 10),
			AverageSessionMins: getEnvInt("SB_QUEUE_AVG_SESSION_MINUTES", 45),
		},
		Invite: InviteConfig{
			AuditRetention: time.Duration(getEnvInt("SB_INVITE_AUDIT_RETENTION_DAYS", 30)) * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			ConnectionOpens:      getEnvInt("SB_RATE_LIMIT_CONNECTION_OPENS", 20),
			ConnectionWindow:     getEnvDuration("SB_RATE_LIMIT_CONNECTION_WINDOW", 60*time.Second),
			InviteFailures:       getEnvInt("SB_RATE_LIMIT_INVITE_FAILURES", 5),
			InviteFailureWindow:  getEnvDuration("SB_RATE_LIMIT_INVITE_FAILURE_WINDOW", time.Hour),
			CookieIssuance:       getEnvInt("SB_RATE_LIMIT_COOKIE_ISSUANCE", 10),
			CookieIssuanceWindow: getEnvDuration("SB_RATE_LIMIT_COOKIE_ISSUANCE_WINDOW", 60*time.Second),
		},
		Security: SecurityConfig{
			SessionSecret: getEnv("SB_SESSION_SECRET", ""),
		},
		Credential: CredentialConfig{
			Dir: getEnv("SB_CREDENTIAL_DIR", "./data/credentials"),
		},
		KV: KVConfig{
			ConnectionURL:  getEnv("SB_KV_URL", "redis://localhost:6379/0"),
			RetryAttempts:  getEnvInt("SB_KV_RETRY_ATTEMPTS", 10),
			RetryInterval:  getEnvDuration("SB_KV_RETRY_INTERVAL", time.Second),
			ConnectTimeout: getEnvDuration("SB_KV_CONNECT_TIMEOUT", 5*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and that
// the fatal invariants of §7 hold: a weak or short session secret must
// abort startup rather than mint forgeable tokens.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Credential.Dir == "" {
		return fmt.Errorf("SB_CREDENTIAL_DIR cannot be empty")
	}
	if c.KV.ConnectionURL == "" {
		return fmt.Errorf("SB_KV_URL cannot be empty")
	}
	if len(c.Security.SessionSecret) < 32 {
		return fmt.Errorf("SB_SESSION_SECRET must be at least 32 bytes, got %d", len(c.Security.SessionSecret))
	}
	if weakSecrets[strings.ToLower(c.Security.SessionSecret)] {
		return fmt.Errorf("SB_SESSION_SECRET must not be a known weak literal")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("SB_QUEUE_CAPACITY must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvDurationMillis parses a plain integer count of milliseconds, for
// keys documented in §6 as "(milliseconds, default N)" rather than Go
// duration syntax.
func getEnvDurationMillis(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
