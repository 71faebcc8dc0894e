// Package quota enforces subscription plan limits for tenants.
//
// Usage is tallied in the usage_counters table, one row per tenant,
// calendar month, and counter name. Checks read the tally for the
// period in question and compare it against the limits configured for
// the tenant's tier. A zero limit means unlimited. Refusals wrap
// errors.ErrPlanLimit so callers can tell an exhausted allowance from
// an infrastructure failure.
package quota

import (
	"database/sql"
	"sync"
	"time"

	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/rota/recur"
	"github.com/crewline/crewline/tenants"
)

// Counter names tracked per tenant per calendar month.
const (
	CounterJobsGenerated = "jobs_generated"
	CounterWebhooksSent  = "webhooks_sent"
)

// Period formats a point in time as the YYYY-MM usage period it falls in.
func Period(at time.Time) string {
	return at.UTC().Format("2006-01")
}

// Tracker answers whether a tenant may consume more of a metered
// allowance and records consumption as it happens. The sweep runner
// consults it before generating a job, the outbox worker before
// delivering a webhook, and the template API before activating a
// template.
type Tracker struct {
	db        *sql.DB
	tenants   *tenants.Store
	templates *recur.TemplateStore

	mu    sync.RWMutex
	plans config.PlansConfig
}

// NewTracker creates a tracker enforcing the given plan limits.
func NewTracker(db *sql.DB, tenantStore *tenants.Store, templates *recur.TemplateStore, plans config.PlansConfig) *Tracker {
	return &Tracker{
		db:        db,
		tenants:   tenantStore,
		templates: templates,
		plans:     plans,
	}
}

// UpdatePlans swaps in new plan limits, typically after a config reload.
// Checks already in flight finish against the old limits.
func (t *Tracker) UpdatePlans(plans config.PlansConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.plans = plans
}

// LimitsForTenant resolves the plan limits that govern a tenant.
// Suspended tenants get an error wrapping errors.ErrTenantInactive;
// nothing is metered for them.
func (t *Tracker) LimitsForTenant(tenantID string) (string, config.PlanConfig, error) {
	tn, err := t.tenants.Get(tenantID)
	if err != nil {
		return "", config.PlanConfig{}, err
	}
	if !tn.IsActive {
		return "", config.PlanConfig{}, errors.Wrapf(errors.ErrTenantInactive, "tenant %s", tenantID)
	}

	t.mu.RLock()
	plan := t.plans.ForTier(tn.Tier)
	t.mu.RUnlock()
	return tn.Tier, plan, nil
}

// CheckGeneration reports whether one more job may be generated for
// tenantID in the period at falls in.
func (t *Tracker) CheckGeneration(tenantID string, at time.Time) error {
	tier, plan, err := t.LimitsForTenant(tenantID)
	if err != nil {
		return err
	}
	if plan.MaxJobsPerMonth == 0 {
		return nil
	}

	used, err := t.Usage(tenantID, Period(at), CounterJobsGenerated)
	if err != nil {
		return err
	}
	if used >= plan.MaxJobsPerMonth {
		limitErr := errors.Wrapf(errors.ErrPlanLimit,
			"tenant %s generated %d of %d jobs for %s", tenantID, used, plan.MaxJobsPerMonth, Period(at))
		return errors.WithDetailf(limitErr, "tier %s allows %d generated jobs per month", tier, plan.MaxJobsPerMonth)
	}
	return nil
}

// RecordGeneration tallies one generated job against tenantID's period.
func (t *Tracker) RecordGeneration(tenantID string, at time.Time) error {
	return t.record(tenantID, Period(at), CounterJobsGenerated)
}

// CheckWebhookDelivery reports whether one more webhook may be
// delivered for tenantID in the period at falls in.
func (t *Tracker) CheckWebhookDelivery(tenantID string, at time.Time) error {
	tier, plan, err := t.LimitsForTenant(tenantID)
	if err != nil {
		return err
	}
	if plan.MaxWebhooksPerMonth == 0 {
		return nil
	}

	used, err := t.Usage(tenantID, Period(at), CounterWebhooksSent)
	if err != nil {
		return err
	}
	if used >= plan.MaxWebhooksPerMonth {
		limitErr := errors.Wrapf(errors.ErrPlanLimit,
			"tenant %s sent %d of %d webhooks for %s", tenantID, used, plan.MaxWebhooksPerMonth, Period(at))
		return errors.WithDetailf(limitErr, "tier %s allows %d webhook deliveries per month", tier, plan.MaxWebhooksPerMonth)
	}
	return nil
}

// RecordWebhookDelivery tallies one delivered webhook against
// tenantID's period.
func (t *Tracker) RecordWebhookDelivery(tenantID string, at time.Time) error {
	return t.record(tenantID, Period(at), CounterWebhooksSent)
}

// CheckTemplateActivation reports whether tenantID may have one more
// active recurring template. Unlike the monthly counters this checks
// live state, so deactivating a template frees a slot immediately.
func (t *Tracker) CheckTemplateActivation(tenantID string) error {
	tier, plan, err := t.LimitsForTenant(tenantID)
	if err != nil {
		return err
	}
	if plan.MaxActiveTemplates == 0 {
		return nil
	}

	active, err := t.templates.CountActiveForTenant(tenantID)
	if err != nil {
		return err
	}
	if active >= plan.MaxActiveTemplates {
		limitErr := errors.Wrapf(errors.ErrPlanLimit,
			"tenant %s has %d of %d active templates", tenantID, active, plan.MaxActiveTemplates)
		return errors.WithDetailf(limitErr, "tier %s allows %d active recurring templates", tier, plan.MaxActiveTemplates)
	}
	return nil
}

// Usage returns the recorded count for one tenant, period, and counter.
// Periods with no recorded activity read as zero.
func (t *Tracker) Usage(tenantID, period, counter string) (int, error) {
	var n int
	err := t.db.QueryRow(`
		SELECT count FROM usage_counters
		WHERE tenant_id = ? AND period = ? AND counter = ?`,
		tenantID, period, counter).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s usage for tenant %s", counter, tenantID)
	}
	return n, nil
}

// Snapshot summarizes a tenant's usage against its plan for the period
// at falls in. It works for suspended tenants too so the health
// endpoint can show why nothing is being generated.
type Snapshot struct {
	Tier            string `json:"tier"`
	Period          string `json:"period"`
	JobsGenerated   int    `json:"jobs_generated"`
	MaxJobs         int    `json:"max_jobs_per_month"`
	WebhooksSent    int    `json:"webhooks_sent"`
	MaxWebhooks     int    `json:"max_webhooks_per_month"`
	ActiveTemplates int    `json:"active_templates"`
	MaxTemplates    int    `json:"max_active_templates"`
}

// TenantSnapshot reads the current usage picture for one tenant.
func (t *Tracker) TenantSnapshot(tenantID string, at time.Time) (*Snapshot, error) {
	tn, err := t.tenants.Get(tenantID)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	plan := t.plans.ForTier(tn.Tier)
	t.mu.RUnlock()

	period := Period(at)
	jobs, err := t.Usage(tenantID, period, CounterJobsGenerated)
	if err != nil {
		return nil, err
	}
	hooks, err := t.Usage(tenantID, period, CounterWebhooksSent)
	if err != nil {
		return nil, err
	}
	active, err := t.templates.CountActiveForTenant(tenantID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Tier:            tn.Tier,
		Period:          period,
		JobsGenerated:   jobs,
		MaxJobs:         plan.MaxJobsPerMonth,
		WebhooksSent:    hooks,
		MaxWebhooks:     plan.MaxWebhooksPerMonth,
		ActiveTemplates: active,
		MaxTemplates:    plan.MaxActiveTemplates,
	}, nil
}

func (t *Tracker) record(tenantID, period, counter string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := t.db.Exec(`
		INSERT INTO usage_counters (tenant_id, period, counter, count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(tenant_id, period, counter)
		DO UPDATE SET count = count + 1, updated_at = excluded.updated_at`,
		tenantID, period, counter, now)
	if err != nil {
		return errors.Wrapf(err, "failed to record %s usage for tenant %s", counter, tenantID)
	}
	return nil
}
