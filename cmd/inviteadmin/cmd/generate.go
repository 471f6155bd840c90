package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	genExpires string
	genToken   string
	genLabel   string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new invite token",
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genExpires, "expires", "", "expiry, e.g. 30m, 2h, 7d, 1w")
	generateCmd.Flags().StringVar(&genToken, "token", "", "custom vanity token (rejected if already in use)")
	generateCmd.Flags().StringVar(&genLabel, "label", "", "operator-facing label for this invite")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	defaults, err := loadFileDefaults()
	if err != nil {
		return err
	}

	expires := genExpires
	if expires == "" {
		expires = defaults.DefaultExpires
	}
	if expires == "" {
		return errors.New("inviteadmin generate: --expires is required (or set default_expires in --config)")
	}
	label := genLabel
	if label == "" {
		label = defaults.DefaultLabel
	}

	expiresIn, err := parseExpiry(expires)
	if err != nil {
		return fmt.Errorf("inviteadmin generate: %w", err)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	inv, err := store.Generate(ctx, expiresIn, 1, label, genToken, "")
	if err != nil {
		return fmt.Errorf("inviteadmin generate: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "token:      %s\n", inv.Token)
	fmt.Fprintf(w, "expires_at: %s\n", inv.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	if inv.Label != "" {
		fmt.Fprintf(w, "label:      %s\n", inv.Label)
	}
	return nil
}
