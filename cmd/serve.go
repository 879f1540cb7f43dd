package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/app"
)

// newServeCmd creates the 'serve' subcommand: the status HTTP server with
// run submission, cancel/skip control, and Prometheus metrics.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the status and control HTTP server",
		Long: `Serves the control API: POST /v1/runs submits a source list, GET
/v1/status and /v1/active report live progress, POST /v1/cancel and
/v1/skip signal the running dispatch, and /metrics exposes Prometheus
collectors.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			if err := a.Serve(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}
