package recur

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crewline/crewline/logger"
)

// Ticker drives the generation runner on a fixed cadence. The sweep is
// cheap when nothing is due, so the interval can be short without cost;
// anything from minutes to a day keeps the calendar correct because the
// runner catches up on every pass.
type Ticker struct {
	runner   *Runner
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	lastResult      *SweepResult
	ticksSinceStart int64
}

// TickerConfig contains configuration for the sweep ticker
type TickerConfig struct {
	Interval time.Duration // How often to run a sweep (default: 5 minutes)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 5 * time.Minute,
	}
}

// NewTicker creates a sweep ticker around the runner
func NewTicker(runner *Runner, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), runner, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, runner *Runner, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if log == nil {
		log = logger.ComponentLogger("rota.ticker")
	}

	return &Ticker{
		runner:   runner,
		interval: cfg.Interval,
		ctx:      tickerCtx,
		cancel:   cancel,
		log:      log,
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.log.Infow("Sweep ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker, waiting for an in-flight sweep
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.log.Infow("Sweep ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			tick := t.ticksSinceStart
			t.mu.Unlock()

			result, err := t.runner.SweepTriggered(t.ctx, TriggerTicker)
			if err != nil {
				if t.ctx.Err() != nil {
					return // shutting down mid-sweep
				}
				t.log.Warnw("Sweep tick failed", "error", err, "tick", tick)
				continue
			}

			t.mu.Lock()
			t.lastResult = result
			t.mu.Unlock()

			// Idle ticks stay quiet so a short interval does not flood the
			// log with no-op sweeps.
			if result.Generated > 0 || len(result.Errors) > 0 {
				t.log.Infow("Sweep tick completed",
					logger.FieldGenerated, result.Generated,
					logger.FieldTemplatesProcessed, result.TemplatesProcessed,
					"error_count", len(result.Errors))
			} else {
				t.log.Debugw("Sweep tick idle",
					logger.FieldTemplatesProcessed, result.TemplatesProcessed)
			}
		}
	}
}

// GetStats returns ticker statistics for the status endpoint
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := map[string]interface{}{
		"interval":          t.interval.String(),
		"ticks_since_start": t.ticksSinceStart,
	}
	if !t.lastTickAt.IsZero() {
		stats["last_tick_at"] = t.lastTickAt.Format(time.RFC3339)
	}
	if t.lastResult != nil {
		stats["last_generated"] = t.lastResult.Generated
		stats["last_templates_processed"] = t.lastResult.TemplatesProcessed
		stats["last_error_count"] = len(t.lastResult.Errors)
	}
	return stats
}
