package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/socialscope/internal/server"
)

// newServeCmd runs the API, the workers and the dispatcher until SIGINT/SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			srv, err := server.Build(cmd.Context(), base)
			if err != nil {
				return fmt.Errorf("build server: %w", err)
			}
			if err := srv.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run server: %w", err)
			}
			return nil
		},
	}
}
