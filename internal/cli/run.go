package cli

import (
	"errors"
	"fmt"
	"time"

	"workflow_digest/internal/domain/notification"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		date         string
		classifyOnly bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Classify workflow state and send today's digests",
		Long: "Classify every active cycle and task as of the reference date, then send each " +
			"recipient a digest of everything pending. The reference date defaults to today (UTC).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseDate(date)
			if err != nil {
				return err
			}

			a, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if classifyOnly {
				res, err := a.digests.ClassifyOnly(cmd.Context(), ref)
				if err != nil {
					return fmt.Errorf("classification failed: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderClassify(res))
				return nil
			}

			report, err := a.digests.RunDailyDigest(cmd.Context(), ref)
			if err != nil {
				return fmt.Errorf("digest run failed: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRun(report))
			if report.Dispatch != nil && report.Dispatch.Failed > 0 {
				return fmt.Errorf("%d digest(s) could not be delivered", report.Dispatch.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "reference date (YYYY-MM-DD), defaults to today")
	cmd.Flags().BoolVar(&classifyOnly, "classify-only", false, "record pending notifications without sending")
	return cmd
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send",
		Short: "Send digests for everything already pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.digests.DispatchPending(cmd.Context())
			if errors.Is(err, notification.ErrDispatchInProgress) {
				fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("Another dispatch holds today's lease; nothing sent."))
				return nil
			}
			if err != nil {
				return fmt.Errorf("dispatch failed: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderDispatch(report))
			if report.Failed > 0 {
				return fmt.Errorf("%d digest(s) could not be delivered", report.Failed)
			}
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every notification, transition mark and checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset the notification ledger without --yes")
			}
			a, err := newApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.digests.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Notification ledger reset."))
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

// parseDate returns nil for an empty value, meaning "today".
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", s)
	}
	return &d, nil
}
