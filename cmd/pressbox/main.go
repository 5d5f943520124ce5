package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridironlabs/pressbox/cmd/pressbox/commands"
	"github.com/gridironlabs/pressbox/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pressbox",
	Short: "Pressbox - league content scheduling and dispatch engine",
	Long: `Pressbox schedules and dispatches league content generation.

Per-league schedules (weekly, event-triggered, season-based, relative)
are turned into jobs, advanced through a bounded state machine with retry
and backoff, and gated against league preferences, monthly budgets, and
the sport season phase.

Examples:
  pressbox serve            # Run the dispatcher daemon
  pressbox migrate          # Apply database migrations
  pressbox version          # Print version`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: search for pressbox.toml)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.MigrateCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
