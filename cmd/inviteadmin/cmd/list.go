package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/demolab/sessionbroker/internal/domain"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List invite tokens, optionally filtered by status",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status: pending, used, expired, revoked")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	invites, err := store.List(ctx, domain.InviteStatus(listStatus))
	if err != nil {
		return fmt.Errorf("inviteadmin list: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(invites) == 0 {
		fmt.Fprintln(w, "no invites found")
		return nil
	}
	for _, inv := range invites {
		fmt.Fprintf(w, "%s  %-10s  uses=%d/%d  expires=%s  label=%q\n",
			inv.Token, inv.Status, inv.UseCount, inv.MaxUses,
			inv.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"), inv.Label)
	}
	return nil
}
