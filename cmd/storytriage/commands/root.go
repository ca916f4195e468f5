// Package commands implements the storytriage CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "storytriage",
	Short: "Webhook-driven story triage and enhancement",
	Long: `Storytriage receives Shortcut story webhooks, triages them by label,
and runs AI analysis and enhancement workflows through a priority
task queue.

Run "storytriage serve" to accept webhooks and "storytriage worker"
to process the queued tasks.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file")
}
