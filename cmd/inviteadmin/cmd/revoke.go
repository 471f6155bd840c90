package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var revokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke an invite token, preventing any further use",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevoke,
}

func init() {
	rootCmd.AddCommand(revokeCmd)
}

func runRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Revoke(ctx, args[0]); err != nil {
		return fmt.Errorf("inviteadmin revoke: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "revoked: %s\n", args[0])
	return nil
}
