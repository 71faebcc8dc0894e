package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/jobs"
	"github.com/crewline/crewline/logger"
	"github.com/crewline/crewline/rota/outbox"
	"github.com/crewline/crewline/rota/quota"
	"github.com/crewline/crewline/rota/recur"
	"github.com/crewline/crewline/tenants"
)

// SweepCmd runs a single generation sweep and exits
var SweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single generation sweep",
	Long: `Run one generation sweep over all active recurring templates.

Each due template gets a job materialized for its current occurrence and
its pointer advanced. Notifications are queued for the daemon's outbox
to deliver; this command does not deliver webhooks itself.

Useful for cron-driven deployments that run the daemon without the
built-in ticker, and for catching up after downtime.`,
	RunE: runSweep,
}

var (
	sweepDBPath string
	sweepJSON   bool
)

func init() {
	SweepCmd.Flags().StringVar(&sweepDBPath, "db-path", "", "Custom database path (overrides config)")
	SweepCmd.Flags().BoolVar(&sweepJSON, "json", false, "Print the sweep report as JSON")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase(sweepDBPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	tenantStore := tenants.NewStore(database)
	templateStore := recur.NewTemplateStore(database)
	jobStore := jobs.NewStore(database)
	runStore := recur.NewRunStore(database)
	tracker := quota.NewTracker(database, tenantStore, templateStore, cfg.Plans)
	queue := outbox.NewQueue(database)

	// No broadcaster: there is no WebSocket hub in a one-shot run
	runner := recur.NewRunner(templateStore, jobStore, runStore, tracker, queue, nil, logger.Logger)

	result, err := runner.SweepTriggered(context.Background(), recur.TriggerCLI)
	if err != nil {
		return errors.Wrap(err, "sweep failed")
	}

	if sweepJSON {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format sweep report")
		}
		fmt.Println(string(output))
		return nil
	}

	pterm.Success.Printf("Generated %d jobs from %d templates\n", result.Generated, result.TemplatesProcessed)
	for _, sweepErr := range result.Errors {
		pterm.Warning.Printf("  template %s: %s\n", sweepErr.TemplateID, sweepErr.Message)
	}
	return nil
}
