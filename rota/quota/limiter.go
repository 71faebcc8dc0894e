package quota

import (
	"context"
	"sync"
	"time"

	"github.com/crewline/crewline/errors"
)

// Limiter caps how often manual sweeps may be triggered through the
// API. It keeps a sliding one minute window of trigger times; a
// trigger is allowed while the window holds fewer than the configured
// maximum. The cap is global, not per tenant, because a sweep always
// covers every tenant.
type Limiter struct {
	mu           sync.Mutex
	maxPerMinute int
	window       time.Duration
	triggers     []time.Time

	// timeNow is swappable for tests
	timeNow func() time.Time
}

// NewLimiter creates a limiter allowing maxPerMinute sweep triggers.
// Zero or negative disables limiting.
func NewLimiter(maxPerMinute int) *Limiter {
	return &Limiter{
		maxPerMinute: maxPerMinute,
		window:       time.Minute,
		timeNow:      time.Now,
	}
}

// Allow consumes one trigger slot. When the window is full it returns
// an error wrapping errors.ErrRateLimited and consumes nothing.
func (l *Limiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	l.removeExpired(now)

	if l.maxPerMinute > 0 && len(l.triggers) >= l.maxPerMinute {
		err := errors.Wrapf(errors.ErrRateLimited,
			"sweep trigger limit is %d per minute", l.maxPerMinute)
		return errors.WithDetailf(err, "%d triggers in the last minute", len(l.triggers))
	}

	l.triggers = append(l.triggers, now)
	return nil
}

// Wait blocks until a trigger slot frees up or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if err := l.Allow(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Reset clears the window.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.triggers = nil
}

// Stats reports how many triggers sit in the window and the cap.
func (l *Limiter) Stats() (current, max int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeExpired(l.timeNow())
	return len(l.triggers), l.maxPerMinute
}

// removeExpired drops triggers older than the window. Trigger times
// are appended in order, so expired entries form a prefix.
func (l *Limiter) removeExpired(now time.Time) {
	cutoff := now.Add(-l.window)
	expired := 0
	for _, at := range l.triggers {
		if at.After(cutoff) {
			break
		}
		expired++
	}
	l.triggers = l.triggers[expired:]
}
