package commands

import (
	"fmt"

	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/logger"
	"github.com/crewline/crewline/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, dbPath string, port int, cfg *config.Config) {
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s┌─ Crewline ──────────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	fmt.Printf("%s│%s Database:  %s\n", green, reset, dbPath)
	fmt.Printf("%s│%s Port:      %d\n", green, reset, port)
	if cfg.Rota.TickerIntervalSeconds > 0 {
		fmt.Printf("%s│%s Sweeps:    every %ds\n", green, reset, cfg.Rota.TickerIntervalSeconds)
	} else {
		fmt.Printf("%s│%s Sweeps:    manual only\n", green, reset)
	}
	fmt.Printf("%s│%s Outbox:    %d worker(s)\n", green, reset, cfg.Outbox.Workers)
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ Recurring templates generate jobs on schedule%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
