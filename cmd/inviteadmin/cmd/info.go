package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <token>",
	Short: "Show the full record for a single invite token",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	inv, err := store.Info(ctx, args[0])
	if err != nil {
		return fmt.Errorf("inviteadmin info: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "token:       %s\n", inv.Token)
	fmt.Fprintf(w, "status:      %s\n", inv.Status)
	fmt.Fprintf(w, "uses:        %d/%d\n", inv.UseCount, inv.MaxUses)
	fmt.Fprintf(w, "created_at:  %s\n", inv.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(w, "expires_at:  %s\n", inv.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	if inv.Label != "" {
		fmt.Fprintf(w, "label:       %s\n", inv.Label)
	}
	if inv.CreatorID != "" {
		fmt.Fprintf(w, "creator_id:  %s\n", inv.CreatorID)
	}
	for _, rec := range inv.Audit {
		fmt.Fprintf(w, "session:     %s  client=%s  %s -> %s  reason=%s\n",
			rec.SessionID, rec.ClientID,
			rec.StartTime.Format("15:04:05"), rec.EndTime.Format("15:04:05"), rec.EndReason)
		for _, e := range rec.Errors {
			fmt.Fprintf(w, "  error:     %s\n", e)
		}
	}
	return nil
}
