package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/socialscope/internal/jobs"
)

// newEnqueueCmd queues a job by hand, e.g. a recurring board scrape.
func newEnqueueCmd() *cobra.Command {
	var (
		remoteID string
		interval int
	)
	cmd := &cobra.Command{
		Use:   "enqueue <type>",
		Short: "Queue a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if interval < 0 {
				return fmt.Errorf("--interval must not be negative")
			}
			job, err := a.Jobs.Enqueue(cmd.Context(), jobs.NewJob{Type: args[0], RemoteID: remoteID, Interval: interval})
			if errors.Is(err, jobs.ErrJobAlreadyExists) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s job for %q is already queued\n", args[0], remoteID)
				return nil
			}
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&remoteID, "remote-id", "", "remote id of the job (dataset key, board name)")
	cmd.Flags().IntVar(&interval, "interval", 0, "recurrence in seconds; zero runs once")
	_ = cmd.MarkFlagRequired("remote-id")
	return cmd
}
