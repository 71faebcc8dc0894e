package outbox

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/jobs"
)

// claimBatchSize bounds how many queued rows a claim scans while
// looking for one whose backoff window has passed.
const claimBatchSize = 10

// subscriberChannelBufferSize is the buffer size for subscriber channels
const subscriberChannelBufferSize = 100

// Queue enqueues notifications and hands them to delivery workers.
// Claims are serialized with a mutex so workers in this process never
// race for the same row; the status-guarded UPDATE underneath keeps a
// second process honest too.
type Queue struct {
	store       *Store
	mu          sync.Mutex
	subscribers []chan *Notification // Channels to notify of status changes

	// timeNow is swappable for tests
	timeNow func() time.Time
}

// NewQueue creates a notification queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:   NewStore(db),
		timeNow: time.Now,
	}
}

// Enqueue validates and stores a notification for delivery
func (q *Queue) Enqueue(n *Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Create(n); err != nil {
		return errors.Wrap(err, "failed to enqueue notification")
	}
	q.notifySubscribers(n)
	return nil
}

// JobCreated queues a job.created notification carrying the job as its
// payload. This is the hook the sweep runner calls after generating a
// job.
func (q *Queue) JobCreated(job *jobs.ScheduledJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal job %s for notification", job.ID)
	}
	return q.Enqueue(&Notification{
		TenantID:  job.TenantID,
		Kind:      KindJobCreated,
		SubjectID: job.ID,
		Payload:   payload,
	})
}

// ImportCompleted queues an import.completed notification with the
// import summary as its payload.
func (q *Queue) ImportCompleted(tenantID string, summary interface{}) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "failed to marshal import summary for notification")
	}
	return q.Enqueue(&Notification{
		TenantID: tenantID,
		Kind:     KindImportCompleted,
		Payload:  payload,
	})
}

// ClaimNext returns the oldest queued notification whose backoff
// window has passed, marked delivering with its attempt counted.
// A nil notification means nothing is ready.
func (q *Queue) ClaimNext() (*Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.timeNow().UTC()
	candidates, err := q.store.listQueued(claimBatchSize)
	if err != nil {
		return nil, err
	}

	for _, n := range candidates {
		if n.Attempts > 0 && now.Sub(n.UpdatedAt) < retryDelay(n.Attempts) {
			continue
		}
		claimed, err := q.store.claim(n.ID, now)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}
		n.Status = StatusDelivering
		n.Attempts++
		n.UpdatedAt = now
		q.notifySubscribers(n)
		return n, nil
	}
	return nil, nil
}

// MarkDelivered finalizes a successful delivery
func (q *Queue) MarkDelivered(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.MarkDelivered(id); err != nil {
		return err
	}
	q.notifyByID(id)
	return nil
}

// MarkFailed finalizes a notification that will never be delivered
func (q *Queue) MarkFailed(id, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.MarkFailed(id, lastError); err != nil {
		return err
	}
	q.notifyByID(id)
	return nil
}

// Requeue schedules another attempt for a claimed notification
func (q *Queue) Requeue(id, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Requeue(id, lastError); err != nil {
		return err
	}
	q.notifyByID(id)
	return nil
}

// RecoverOrphans requeues notifications left in delivering by a crash
func (q *Queue) RecoverOrphans() (int, error) {
	return q.store.RecoverOrphans()
}

// Counts reports queue depth per status
func (q *Queue) Counts() (map[string]int, error) {
	return q.store.Counts()
}

// Store exposes the underlying store for read paths like API listings
func (q *Queue) Store() *Store {
	return q.store
}

// Subscribe returns a channel that receives notification updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (q *Queue) Subscribe() chan *Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Notification, subscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method. Callers close it themselves
// after unsubscribing, which prevents double-close panics.
func (q *Queue) Unsubscribe(ch chan *Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a notification update to all subscribers.
// REQUIRES: q.mu must be held by caller.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (q *Queue) notifySubscribers(n *Notification) {
	for _, ch := range q.subscribers {
		select {
		case ch <- n:
		default:
			// Channel full, skip
		}
	}
}

// notifyByID refetches a row and fans it out. Skipped entirely when
// nobody subscribes so the delivery hot path stays a single UPDATE.
// REQUIRES: q.mu must be held by caller.
func (q *Queue) notifyByID(id string) {
	if len(q.subscribers) == 0 {
		return
	}
	n, err := q.store.Get(id)
	if err != nil {
		return
	}
	q.notifySubscribers(n)
}

// retryDelay returns how long a notification waits after its nth
// failed attempt: 30s doubling per attempt, capped at 5 minutes.
func retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	delay := 30 * time.Second
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return delay
}
