// Package cmd defines the CLI commands for the grabber executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chrisdogtn/RedditGrabber-sub000/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mediagrab",
		Short: "A per-site media harvester and concurrent downloader.",
		Long: `mediagrab resolves community feeds, aggregator profiles, and direct
media pages into download jobs, then executes them under global and
per-domain concurrency caps using direct streaming, an external
extractor process, or range-parallel multi-connection fetches.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./mediagrab.yaml)")

	cmd.AddCommand(newGrabCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// loadConfig reads the configuration for a command invocation.
func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("mediagrab.yaml"); err == nil {
			path = "mediagrab.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
