package outbox

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/logger"
	"github.com/crewline/crewline/tenants"
)

// UsageMeter meters webhook deliveries against plan limits. The quota
// tracker implements it; nil disables metering.
type UsageMeter interface {
	CheckWebhookDelivery(tenantID string, at time.Time) error
	RecordWebhookDelivery(tenantID string, at time.Time) error
}

// WorkerPoolConfig contains configuration for the delivery pool
type WorkerPoolConfig struct {
	Workers             int           `json:"workers"`               // Concurrent delivery workers
	PollInterval        time.Duration `json:"poll_interval"`         // How often each worker checks the queue
	MaxAttempts         int           `json:"max_attempts"`          // Attempts before a notification is failed
	DeliveriesPerSecond float64       `json:"deliveries_per_second"` // Outbound rate across all workers (0 = unlimited)
	DeliveryBurst       int           `json:"delivery_burst"`        // Rate limiter burst
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:             2,
		PollInterval:        time.Second,
		MaxAttempts:         5,
		DeliveriesPerSecond: 5,
		DeliveryBurst:       10,
	}
}

// PoolConfigFromOutbox maps file configuration onto pool settings.
// Workers is copied verbatim; zero means the operator turned delivery
// off and serve skips the pool entirely.
func PoolConfigFromOutbox(cfg config.OutboxConfig) WorkerPoolConfig {
	pool := DefaultWorkerPoolConfig()
	pool.Workers = cfg.Workers
	if cfg.MaxAttempts > 0 {
		pool.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.DeliveriesPerSecond > 0 {
		pool.DeliveriesPerSecond = cfg.DeliveriesPerSecond
	}
	if cfg.DeliveryBurst > 0 {
		pool.DeliveryBurst = cfg.DeliveryBurst
	}
	return pool
}

// WorkerPool manages the delivery workers draining the notification
// queue. One outbound rate limiter paces all workers together so a
// burst of generated jobs does not hammer tenant endpoints.
type WorkerPool struct {
	queue   *Queue
	tenants *tenants.Store
	meter   UsageMeter
	sender  Sender
	limiter *rate.Limiter
	cfg     WorkerPoolConfig
	workers int

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	log       *zap.SugaredLogger

	mu            sync.Mutex
	activeWorkers int
	delivered     int
	failed        int

	// timeNow is swappable for tests
	timeNow func() time.Time
}

// NewWorkerPool creates a delivery pool. meter may be nil to skip plan
// metering; a nil sender logs deliveries instead of sending them.
func NewWorkerPool(db *sql.DB, tenantStore *tenants.Store, meter UsageMeter, sender Sender, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), db, tenantStore, meter, sender, cfg, log)
}

// NewWorkerPoolWithContext creates a delivery pool whose workers stop
// when ctx is cancelled.
func NewWorkerPoolWithContext(ctx context.Context, db *sql.DB, tenantStore *tenants.Store, meter UsageMeter, sender Sender, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)

	if log == nil {
		log = logger.ComponentLogger("rota.outbox")
	}
	if sender == nil {
		sender = NewLogSender(log)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	perSecond := rate.Limit(cfg.DeliveriesPerSecond)
	if cfg.DeliveriesPerSecond <= 0 {
		perSecond = rate.Inf
	}
	burst := cfg.DeliveryBurst
	if burst < 1 {
		burst = 1
	}

	return &WorkerPool{
		queue:     NewQueue(db),
		tenants:   tenantStore,
		meter:     meter,
		sender:    sender,
		limiter:   rate.NewLimiter(perSecond, burst),
		cfg:       cfg,
		workers:   cfg.Workers,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		log:       log,
		timeNow:   time.Now,
	}
}

// Start recovers orphaned rows and launches the delivery workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		// Restart after Stop: derive a fresh context before spawning.
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}
	wp.mu.Unlock()

	recovered, err := wp.queue.RecoverOrphans()
	if err != nil {
		wp.log.Warnw("Failed to recover orphaned notifications", logger.FieldError, err)
	} else if recovered > 0 {
		wp.log.Infow("Recovered orphaned notifications", logger.FieldCount, recovered)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Infow("Outbox delivery workers started", "workers", wp.workers)
}

// Stop cancels the workers and waits for in-flight deliveries. A
// delivery cut off mid flight is requeued by the next start's orphan
// recovery.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.log.Infow("Outbox delivery workers stopped")
	case <-time.After(15 * time.Second):
		wp.log.Warnw("Outbox stop timed out, deliveries may still be finishing")
	}
}

// worker drains the queue on a poll cadence
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			err := wp.drain()
			if err == nil {
				errorCount = 0
				backoff = time.Second
				continue
			}

			select {
			case <-wp.ctx.Done():
				return
			default:
			}
			if errors.Is(err, sql.ErrConnDone) {
				// Database closed during shutdown
				return
			}

			errorCount++
			wp.log.Errorw("Delivery worker error",
				"worker_id", id,
				logger.FieldError, err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				wp.log.Warnw("Delivery worker backing off",
					"worker_id", id,
					"backoff", backoff.String(),
					"consecutive_errors", errorCount)
				time.Sleep(backoff)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}
	}
}

// drain processes claimable notifications until the queue runs dry or
// the context ends
func (wp *WorkerPool) drain() error {
	for {
		processed, err := wp.processNext()
		if err != nil || !processed {
			return err
		}
	}
}

// processNext claims and delivers one notification. It reports whether
// a notification was claimed so drain knows when the queue is empty.
func (wp *WorkerPool) processNext() (bool, error) {
	select {
	case <-wp.ctx.Done():
		return false, nil
	default:
	}

	n, err := wp.queue.ClaimNext()
	if err != nil {
		return false, errors.Wrap(err, "failed to claim notification")
	}
	if n == nil {
		return false, nil
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	// Pace every outbound attempt through the shared limiter.
	if err := wp.limiter.Wait(wp.ctx); err != nil {
		wp.release(n)
		return true, nil
	}

	tenant, err := wp.tenants.Get(n.TenantID)
	if err != nil {
		if errors.IsNotFound(err) {
			return true, wp.finalize(n, "tenant no longer exists")
		}
		return true, wp.retryOrFail(n, err)
	}
	if !tenant.IsActive {
		return true, wp.finalize(n, "tenant inactive")
	}
	if tenant.WebhookURL == "" {
		wp.log.Debugw("No webhook configured, completing notification",
			"notification_id", n.ID,
			logger.FieldTenantID, n.TenantID)
		if err := wp.queue.MarkDelivered(n.ID); err != nil {
			return true, errors.Wrap(err, "failed to complete notification")
		}
		return true, nil
	}

	if wp.meter != nil {
		if err := wp.meter.CheckWebhookDelivery(n.TenantID, wp.timeNow()); err != nil {
			if errors.IsPlanLimit(err) {
				return true, wp.finalize(n, err.Error())
			}
			return true, wp.retryOrFail(n, err)
		}
	}

	started := time.Now()
	if err := wp.sender.Send(wp.ctx, n, tenant.WebhookURL); err != nil {
		select {
		case <-wp.ctx.Done():
			// Shutdown killed the request, not the endpoint.
			wp.release(n)
			return true, nil
		default:
		}
		return true, wp.retryOrFail(n, err)
	}

	if err := wp.queue.MarkDelivered(n.ID); err != nil {
		return true, errors.Wrap(err, "failed to mark notification delivered")
	}
	wp.mu.Lock()
	wp.delivered++
	wp.mu.Unlock()

	if wp.meter != nil {
		if err := wp.meter.RecordWebhookDelivery(n.TenantID, wp.timeNow()); err != nil {
			wp.log.Warnw("Failed to record webhook usage",
				logger.FieldTenantID, n.TenantID,
				logger.FieldError, err)
		}
	}

	wp.log.Infow("Notification delivered",
		"notification_id", n.ID,
		"kind", n.Kind,
		logger.FieldTenantID, n.TenantID,
		"attempts", n.Attempts,
		logger.FieldDurationMS, time.Since(started).Milliseconds())
	return true, nil
}

// release puts a claimed notification back without recording an error,
// used when shutdown interrupts the attempt
func (wp *WorkerPool) release(n *Notification) {
	if err := wp.queue.Requeue(n.ID, n.LastError); err != nil {
		wp.log.Warnw("Failed to release notification during shutdown",
			"notification_id", n.ID,
			logger.FieldError, err)
	}
}

// retryOrFail requeues the notification for another attempt, or fails
// it permanently once the attempt budget is spent
func (wp *WorkerPool) retryOrFail(n *Notification, cause error) error {
	if n.Attempts >= wp.cfg.MaxAttempts {
		return wp.finalize(n, cause.Error())
	}
	if err := wp.queue.Requeue(n.ID, cause.Error()); err != nil {
		return errors.Wrap(err, "failed to requeue notification")
	}
	wp.log.Warnw("Notification delivery failed, will retry",
		"notification_id", n.ID,
		"kind", n.Kind,
		logger.FieldTenantID, n.TenantID,
		"attempt", n.Attempts,
		"max_attempts", wp.cfg.MaxAttempts,
		"retry_in", retryDelay(n.Attempts).String(),
		logger.FieldError, cause)
	return nil
}

// finalize marks a notification permanently failed
func (wp *WorkerPool) finalize(n *Notification, reason string) error {
	if err := wp.queue.MarkFailed(n.ID, reason); err != nil {
		return errors.Wrap(err, "failed to mark notification failed")
	}
	wp.mu.Lock()
	wp.failed++
	wp.mu.Unlock()
	wp.log.Warnw("Notification failed permanently",
		"notification_id", n.ID,
		"kind", n.Kind,
		logger.FieldTenantID, n.TenantID,
		"attempts", n.Attempts,
		"reason", reason)
	return nil
}

// GetQueue returns the notification queue for producers and read paths
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the configured worker count
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Stats summarizes pool state for the status endpoint
func (wp *WorkerPool) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"workers":       wp.workers,
		"poll_interval": wp.cfg.PollInterval.String(),
		"max_attempts":  wp.cfg.MaxAttempts,
	}

	wp.mu.Lock()
	stats["active_workers"] = wp.activeWorkers
	stats["delivered_since_start"] = wp.delivered
	stats["failed_since_start"] = wp.failed
	wp.mu.Unlock()

	if counts, err := wp.queue.Counts(); err == nil {
		stats["queue"] = counts
	}
	return stats
}
