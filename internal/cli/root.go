package cli

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Daily GRC workflow notification digests",
		Long: "digest classifies workflow cycles and tasks into pending notifications " +
			"and sends each recipient one daily digest of everything pending for them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newPendingCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newResetCmd())
	return cmd
}

func Execute() error {
	return newRootCmd().Execute()
}
