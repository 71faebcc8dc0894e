package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crewline/crewline/cmd/crewline/commands"
	"github.com/crewline/crewline/logger"
)

var rootCmd = &cobra.Command{
	Use:   "crewline",
	Short: "Crewline - recurring job engine for field-service teams",
	Long: `Crewline - multi-tenant recurring job scheduling.

Crewline turns recurring service templates ("every 3rd month, quarterly
filter service for Hargrove Dental") into concrete scheduled jobs, with
per-plan quotas, webhook notifications, and a live WebSocket feed.

Available commands:
  serve   - Start the Crewline daemon (REST API + WebSocket + sweep ticker)
  sweep   - Run a single generation sweep and exit
  db      - Manage Crewline database operations
  config  - Show and validate configuration
  version - Show version information

Examples:
  crewline serve               # Start daemon in foreground
  crewline sweep               # Generate due jobs once, then exit
  crewline db stats            # Show database statistics
  crewline config show         # Show current configuration`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global logger before any command runs.
		// Skip for commands that print raw output (like 'config show')
		if cmd.Name() != "show" {
			jsonLogs, _ := cmd.Flags().GetBool("json-logs")
			if err := logger.Initialize(jsonLogs); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}
		return nil
	},
}

func init() {
	// Initialize logger early so startup paths have a usable logger
	if err := logger.Initialize(false); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logger: %v\n", err)
	}

	// Global flags
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.SweepCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
