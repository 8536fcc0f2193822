package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPendingCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show unsent notifications per recipient",
		Long: "Build the digests that would be sent right now without sending them. " +
			"With --address, list the events queued for one recipient.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if address != "" {
				d, err := a.digests.PendingFor(cmd.Context(), address)
				if err != nil {
					return fmt.Errorf("loading pending digest: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderDigest(address, d))
				return nil
			}

			counts, err := a.digests.UnsentCounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading pending notifications: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPending(counts))
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "show the pending digest of one recipient")
	return cmd
}
