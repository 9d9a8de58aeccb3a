package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// appVersion is the build version, kept for telemetry construction.
var appVersion = "dev"

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	appVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Stagehand - Site Deployment Lifecycle Orchestrator",
		Long: `Stagehand orchestrates the deployment lifecycle of hosted CMS sites:
local development copies, staging rehearsals, and production promotion.

Features:
  - Ordered, resumable deployment step catalog per environment
  - Preflight environment validation before anything runs
  - Data acquisition with automatic source fallback and sanitization
  - Checkpoints before destructive steps, with one-command rollback
  - Pattern-based remediation of known deployment failures`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default ~/.stagehand/settings.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newPreflightCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newAcquireCommand())
	rootCmd.AddCommand(newRollbackCommand())
	rootCmd.AddCommand(newCheckpointsCommand())
	rootCmd.AddCommand(newRemediateCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
