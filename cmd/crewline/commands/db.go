package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/rota/recur"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage Crewline database",
	Long: `db — Manage Crewline database operations

Manage database operations including statistics and diagnostics.

Examples:
  crewline db stats               # Show database statistics
  crewline db stats --limit 10    # Show last 10 sweep runs`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display database statistics including tenant, template, job, and notification counts, plus recent sweep runs",
	RunE:  runDbStats,
}

var statsLimitFlag int

func init() {
	DbCmd.AddCommand(dbStatsCmd)
	dbStatsCmd.Flags().IntVar(&statsLimitFlag, "limit", 20, "Number of recent sweep runs to show")
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	var totalTenants, activeTenants int
	err = database.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM tenants
	`).Scan(&totalTenants, &activeTenants)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query tenant stats: %w", err)
	}

	var totalTemplates, activeTemplates int
	err = database.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM recurring_templates
	`).Scan(&totalTemplates, &activeTemplates)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query template stats: %w", err)
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:      %s\n", cfg.GetDatabasePath())
	fmt.Printf("Tenants:            %d (%d active)\n", totalTenants, activeTenants)
	fmt.Printf("Templates:          %d (%d active)\n", totalTemplates, activeTemplates)

	// Job counts by status
	rows, err := database.Query(`
		SELECT status, COUNT(*) FROM scheduled_jobs GROUP BY status ORDER BY status
	`)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query job stats: %w", err)
	}
	if err == nil {
		defer rows.Close()
		totalJobs := 0
		jobLines := ""
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return fmt.Errorf("failed to scan job count: %w", err)
			}
			totalJobs += n
			jobLines += fmt.Sprintf("  %-16s  %d\n", status, n)
		}
		fmt.Printf("Scheduled Jobs:     %d\n", totalJobs)
		fmt.Print(jobLines)
	}

	// Notification counts by status
	rows, err = database.Query(`
		SELECT status, COUNT(*) FROM notifications GROUP BY status ORDER BY status
	`)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query notification stats: %w", err)
	}
	if err == nil {
		defer rows.Close()
		totalNotifications := 0
		notificationLines := ""
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return fmt.Errorf("failed to scan notification count: %w", err)
			}
			totalNotifications += n
			notificationLines += fmt.Sprintf("  %-16s  %d\n", status, n)
		}
		fmt.Printf("Notifications:      %d\n", totalNotifications)
		fmt.Print(notificationLines)
	}
	fmt.Println()

	// Recent sweep runs
	runStore := recur.NewRunStore(database)
	runs, err := runStore.ListRecent(statsLimitFlag)
	if err != nil {
		return fmt.Errorf("failed to list sweep runs: %w", err)
	}

	fmt.Printf("Recent Sweep Runs (last %d):\n", statsLimitFlag)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	if len(runs) == 0 {
		fmt.Println("  No sweep runs recorded yet")
		return nil
	}
	for _, run := range runs {
		line := fmt.Sprintf("  [%s] %s: generated %d from %d templates",
			run.StartedAt[:19], run.TriggeredBy, run.Generated, run.TemplatesProcessed)
		if run.ErrorCount > 0 {
			line += fmt.Sprintf(" (%d errors)", run.ErrorCount)
		}
		fmt.Println(line)
	}

	return nil
}
