// Package cmd defines and implements the CLI commands for the ingest
// pipeline executable.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingestd",
		Short: "Asynchronous content ingestion and enrichment pipeline.",
		Long: `ingestd polls configured content sources (feeds, podcasts, video
channels, forums, microblogs), normalizes and deduplicates what it finds,
downloads and transcodes media, and enriches the result with transcripts
and embeddings before handing it to the content management collaborator.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newTriggerCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() error {
	if err := newRootCmd().Execute(); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}
	return nil
}
