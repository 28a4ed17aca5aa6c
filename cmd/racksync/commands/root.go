// Package commands implements the racksync CLI commands.
package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// buildVersion is stamped into telemetry and audit metadata.
	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "racksync",
		Short: "racksync - declarative inventory synchronization",
		Long: `racksync converges declarative resource manifests against a remote
inventory API. Manifests state what should exist; the engine looks up
each resource by its natural key, creates what is missing, updates only
the managed fields that differ, and leaves everything else alone.

Features:
  - Typed CUE manifests and Starlark generators
  - Idempotent ensure engine with selective-field diffing
  - Two-pass bulk runs with natural-key reference resolution
  - Safety gates: dry-run, write arming, confirmation, Rego policies
  - Local SQLite audit trail of every executed write
  - Async bulk runs in an isolated sync-runner worker process`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default $RACKSYNC_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newEnsureCommand())
	rootCmd.AddCommand(newAuditCommand())

	return rootCmd
}
