package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/logger"
	"github.com/crewline/crewline/server"
)

// ServeCmd starts the Crewline daemon
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the Crewline daemon",
	Long: `Start the Crewline daemon in foreground mode.

The daemon will:
- Serve the REST API and WebSocket feed
- Run the sweep ticker so due templates generate jobs on schedule
- Deliver webhook notifications through the outbox worker pool
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: runServe,
}

var (
	servePort   int
	serveDBPath string
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Default to 1 (Info) for the daemon so startup is visible
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	port := servePort
	if port == 0 {
		port = config.GetServerPort()
	}

	database, err := openDatabase(serveDBPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	dbPath := resolveDatabasePath(serveDBPath)
	printStartupBanner(verbosity, dbPath, port, cfg)

	srv, err := server.NewServer(database, dbPath, cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server in background; Start blocks serving HTTP
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(port)
	}()

	// Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		// Server failed to start or stopped unexpectedly
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		// First Ctrl+C - graceful shutdown
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop()
		}()

		// Wait for either shutdown completion or second Ctrl+C
		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}
