package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crewline/crewline/clients"
	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/jobs"
	"github.com/crewline/crewline/logger"
	"github.com/crewline/crewline/rota/outbox"
	"github.com/crewline/crewline/rota/quota"
	"github.com/crewline/crewline/rota/recur"
	"github.com/crewline/crewline/tenants"
)

// NewServer creates a crewline server wired to the given database.
// The server owns the sweep ticker and the outbox worker pool; their
// goroutines start in Start, not here.
func NewServer(db *sql.DB, dbPath string, cfg *config.Config, serverLogger *zap.SugaredLogger) (*Server, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		cfg = loaded
	}
	if serverLogger == nil {
		serverLogger = logger.ComponentLogger("server")
	}

	// Create cancellation context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())

	tenantStore := tenants.NewStore(db)
	clientStore := clients.NewStore(db)
	jobStore := jobs.NewStore(db)
	templateStore := recur.NewTemplateStore(db)
	runStore := recur.NewRunStore(db)

	tracker := quota.NewTracker(db, tenantStore, templateStore, cfg.Plans)

	// Outbox delivery pool. Zero workers means the operator runs without
	// delivery; notifications still accumulate through a bare queue and the
	// WebSocket feed still mirrors enqueues.
	var pool *outbox.WorkerPool
	var queue *outbox.Queue
	if cfg.Outbox.Workers > 0 {
		sender := outbox.NewWebhookSender(cfg.Outbox)
		pool = outbox.NewWorkerPoolWithContext(ctx, db, tenantStore, tracker, sender, outbox.PoolConfigFromOutbox(cfg.Outbox), serverLogger)
		queue = pool.GetQueue()
	} else {
		queue = outbox.NewQueue(db)
	}

	// Create server instance (before the runner so we can pass it as broadcaster)
	server := &Server{
		db:            db,
		dbPath:        dbPath,
		cfg:           cfg,
		tenantStore:   tenantStore,
		clientStore:   clientStore,
		jobStore:      jobStore,
		templateStore: templateStore,
		runStore:      runStore,
		tracker:       tracker,
		sweepLimiter:  quota.NewLimiter(cfg.Rota.ManualSweepsPerMinute),
		importer:      clients.NewImporter(clientStore),
		pool:          pool,
		queue:         queue,
		clients:       make(map[*Client]bool),
		broadcastReq:  make(chan *broadcastRequest, MaxClientMessageQueueSize),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		logger:        serverLogger,
		ctx:           ctx,
		cancel:        cancel,
	}
	server.state.Store(int32(ServerStateRunning))

	// Runner with the server as broadcaster for live sweep updates
	server.runner = recur.NewRunner(templateStore, jobStore, runStore, tracker, queue, server, serverLogger)

	tickerCfg := recur.DefaultTickerConfig()
	if cfg.Rota.TickerIntervalSeconds > 0 {
		tickerCfg.Interval = time.Duration(cfg.Rota.TickerIntervalSeconds) * time.Second
	}
	server.ticker = recur.NewTickerWithContext(ctx, server.runner, tickerCfg, serverLogger)

	// Set up config file watcher for auto-reload
	setupConfigWatcher(server, serverLogger)

	return server, nil
}

// setupConfigWatcher sets up config file watching with reload callbacks
func setupConfigWatcher(server *Server, serverLogger *zap.SugaredLogger) {
	// Get the config file path from Viper
	configPath := config.GetViper().ConfigFileUsed()
	if configPath == "" {
		serverLogger.Infow("No config file found, using defaults (config watching disabled)")
		return
	}

	serverLogger.Infow(fmt.Sprintf("Using config file: %s", configPath))

	configWatcher, err := config.NewConfigWatcher(configPath)
	if err != nil {
		serverLogger.Warnw("Failed to create config watcher, manual restart required for config changes", "error", err)
		return
	}

	server.configWatcher = configWatcher

	// Set global watcher to prevent reload loops
	config.SetGlobalWatcher(configWatcher)

	// Register callback to push new plan limits into the quota tracker
	configWatcher.OnReload(func(newCfg *config.Config) error {
		serverLogger.Infow("Config reloaded, updating plan limits",
			"starter_jobs", newCfg.Plans.Starter.MaxJobsPerMonth,
			"pro_jobs", newCfg.Plans.Pro.MaxJobsPerMonth,
			"enterprise_jobs", newCfg.Plans.Enterprise.MaxJobsPerMonth,
		)

		server.tracker.UpdatePlans(newCfg.Plans)

		// Broadcast updated engine status to all clients
		server.broadcastDaemonStatus()

		return nil
	})

	// Start watching for changes
	configWatcher.Start()
	serverLogger.Infow("Config watcher started", "path", configPath)
}
