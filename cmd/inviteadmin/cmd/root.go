// Package cmd implements the inviteadmin CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/demolab/sessionbroker/internal/invite"
	"github.com/demolab/sessionbroker/internal/kv"
	"github.com/demolab/sessionbroker/internal/ratelimit"
)

var (
	cfgFile string
	kvURL   string
)

// fileDefaults holds the optional YAML overlay's default expiry/label,
// applied when the corresponding flag was not set explicitly.
type fileDefaults struct {
	DefaultExpires string `yaml:"default_expires"`
	DefaultLabel   string `yaml:"default_label"`
}

var rootCmd = &cobra.Command{
	Use:   "inviteadmin",
	Short: "inviteadmin manages session-broker invite tokens",
	Long:  "inviteadmin generates, lists, inspects, and revokes invite tokens against the broker's KV store.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML file with default_expires/default_label")
	rootCmd.PersistentFlags().StringVar(&kvURL, "kv-url", envOr("SB_KV_URL", "redis://localhost:6379/0"), "KV store connection URL")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// loadFileDefaults reads the optional --config overlay. A missing flag is
// not an error; a present-but-unreadable file is.
func loadFileDefaults() (fileDefaults, error) {
	var fd fileDefaults
	if cfgFile == "" {
		return fd, nil
	}
	raw, err := os.ReadFile(cfgFile)
	if err != nil {
		return fd, fmt.Errorf("inviteadmin: read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &fd); err != nil {
		return fd, fmt.Errorf("inviteadmin: parse config: %w", err)
	}
	return fd, nil
}

// openStore connects to the KV store backing invite records. A no-op
// brute-force guard is used here: the CLI runs with operator trust, not
// over the network path the §4.5 rate limiter protects.
//
// It is a package variable so tests can substitute an in-memory store
// without dialing Redis.
var openStore = func(ctx context.Context) (*invite.Store, func(), error) {
	backing, err := kv.NewRedis(ctx, kv.RedisConfig{
		ConnectionURL:  kvURL,
		RetryAttempts:  3,
		RetryInterval:  time.Second,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("inviteadmin: connect to KV store: %w", err)
	}
	guard := ratelimit.New(1<<30, time.Hour)
	closer := func() {
		guard.Stop()
		_ = backing.Close()
	}
	return invite.New(backing, guard), closer, nil
}
