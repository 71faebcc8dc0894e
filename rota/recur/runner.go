package recur

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/jobs"
	"github.com/crewline/crewline/logger"
)

// QuotaKeeper gates and records per-tenant job generation. Implemented
// by the quota tracker; nil disables plan enforcement.
type QuotaKeeper interface {
	CheckGeneration(tenantID string, at time.Time) error
	RecordGeneration(tenantID string, at time.Time) error
}

// Notifier records job-created events for asynchronous delivery.
// Implemented by the outbox; nil disables notifications.
type Notifier interface {
	JobCreated(job *jobs.ScheduledJob) error
}

// SweepBroadcaster publishes sweep lifecycle events to live listeners.
// Defined here so the engine never imports the transport that serves them.
type SweepBroadcaster interface {
	BroadcastSweepStarted(triggeredBy string)
	BroadcastSweepCompleted(result *SweepResult)
	BroadcastJobGenerated(job *jobs.ScheduledJob)
}

// SweepResult reports the outcome of one generation sweep
type SweepResult struct {
	Message            string       `json:"message"`
	Generated          int          `json:"generated"`
	TemplatesProcessed int          `json:"templatesProcessed"`
	Errors             []SweepError `json:"errors,omitempty"`
}

// SweepError captures a single template's failure without aborting the sweep
type SweepError struct {
	TemplateID string `json:"template_id"`
	Message    string `json:"message"`
}

func (r *SweepResult) recordError(templateID string, err error) {
	r.Errors = append(r.Errors, SweepError{TemplateID: templateID, Message: err.Error()})
}

// Runner executes generation sweeps: it finds due templates, materializes
// jobs for their current occurrences, and advances their pointers. All
// state lives in the stores; a Runner itself is stateless between sweeps.
type Runner struct {
	templates   *TemplateStore
	jobs        *jobs.Store
	runs        *RunStore        // optional sweep history
	quota       QuotaKeeper      // optional plan enforcement
	notifier    Notifier         // optional outbox
	broadcaster SweepBroadcaster // optional live events
	log         *zap.SugaredLogger

	timeNow func() time.Time
}

// NewRunner creates a generation runner. runs, quota, notifier, and
// broadcaster may be nil.
func NewRunner(templates *TemplateStore, jobStore *jobs.Store, runs *RunStore, quota QuotaKeeper, notifier Notifier, broadcaster SweepBroadcaster, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{
		templates:   templates,
		jobs:        jobStore,
		runs:        runs,
		quota:       quota,
		notifier:    notifier,
		broadcaster: broadcaster,
		log:         log,
		timeNow:     time.Now,
	}
}

// Sweep executes one full generation pass over all active templates
func (r *Runner) Sweep(ctx context.Context) (*SweepResult, error) {
	return r.sweep(ctx, TriggerManual)
}

// SweepTriggered is Sweep with the invoking source recorded in history
func (r *Runner) SweepTriggered(ctx context.Context, triggeredBy string) (*SweepResult, error) {
	return r.sweep(ctx, triggeredBy)
}

func (r *Runner) sweep(ctx context.Context, triggeredBy string) (*SweepResult, error) {
	started := r.timeNow()
	today := dateOnly(started)

	if r.broadcaster != nil {
		r.broadcaster.BroadcastSweepStarted(triggeredBy)
	}

	// The only sweep-fatal condition: without the template list there is
	// nothing to iterate.
	templates, err := r.templates.ListActive()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load active templates")
	}

	result := &SweepResult{}
	for _, tmpl := range templates {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		r.processTemplate(tmpl, today, result)
	}

	result.Message = fmt.Sprintf("Generated %d jobs from %d templates",
		result.Generated, result.TemplatesProcessed)

	r.log.Infow("Sweep completed",
		logger.FieldGenerated, result.Generated,
		logger.FieldTemplatesProcessed, result.TemplatesProcessed,
		"error_count", len(result.Errors),
		"triggered_by", triggeredBy,
		logger.FieldDurationMS, r.timeNow().Sub(started).Milliseconds())

	r.recordRun(started, triggeredBy, result)

	if r.broadcaster != nil {
		r.broadcaster.BroadcastSweepCompleted(result)
	}

	return result, nil
}

// processTemplate runs the per-template pipeline: end-date check, due
// check, idempotency check, generation, pointer advancement. Failures
// are recorded on the result and never escape.
func (r *Runner) processTemplate(tmpl *Template, today time.Time, result *SweepResult) {
	result.TemplatesProcessed++

	// A template past its end date stops generating; its pointer stays
	// where it is in case the end date is pushed out again.
	if tmpl.EndDate != nil && tmpl.EndDate.Before(today) {
		r.log.Debugw("Template past end date",
			logger.FieldTemplateID, tmpl.ID,
			"end_date", tmpl.EndDate.Format(dateFormat))
		return
	}

	createDate := tmpl.NextOccurrence.AddDate(0, 0, -tmpl.AdvanceDays)
	if createDate.After(today) {
		return // not yet due
	}

	exists, err := r.jobs.ExistsForTemplateOnDate(tmpl.ID, tmpl.NextOccurrence)
	if err != nil {
		result.recordError(tmpl.ID, err)
		return
	}

	if !exists {
		if r.quota != nil {
			if err := r.quota.CheckGeneration(tmpl.TenantID, today); err != nil {
				result.recordError(tmpl.ID, err)
				if errors.IsPlanLimit(err) {
					// The occurrence is forfeited, not deferred. Advancing
					// keeps the calendar math exact so the next occurrence
					// lands on the right date once the plan allows it.
					r.advancePointer(tmpl, result)
				}
				return
			}
		}

		job := jobFromTemplate(tmpl)
		err := r.jobs.Create(job)
		switch {
		case err == nil:
			result.Generated++
			r.log.Infow("Generated job",
				logger.FieldJobID, job.ID,
				logger.FieldTemplateID, tmpl.ID,
				logger.FieldTenantID, tmpl.TenantID,
				logger.FieldScheduledDate, job.ScheduledDate.Format(dateFormat))
			r.afterGeneration(tmpl, job)
		case errors.IsDuplicate(err):
			// A concurrent writer beat us between the existence check and
			// the insert. The unique index is the authority; the job is
			// there, which is all the sweep needs.
			r.log.Debugw("Job already exists for occurrence",
				logger.FieldTemplateID, tmpl.ID,
				logger.FieldScheduledDate, tmpl.NextOccurrence.Format(dateFormat))
		default:
			result.recordError(tmpl.ID, err)
			return
		}
	}

	// The pointer advances whether the job was created just now or found
	// already present. A backfilled occurrence must not leave the
	// template perpetually due for the same date.
	r.advancePointer(tmpl, result)
}

func (r *Runner) advancePointer(tmpl *Template, result *SweepResult) {
	next := NextOccurrence(tmpl.NextOccurrence, tmpl.Pattern, tmpl.AnchorDay, tmpl.Interval)
	if err := r.templates.AdvancePointer(tmpl.ID, tmpl.NextOccurrence, next); err != nil {
		result.recordError(tmpl.ID, err)
		return
	}
	r.log.Debugw("Advanced template pointer",
		logger.FieldTemplateID, tmpl.ID,
		logger.FieldNextOccurrence, next.Format(dateFormat))
}

// afterGeneration runs the side effects of a successful insert. Neither
// of them can fail the template: the job row is already durable.
func (r *Runner) afterGeneration(tmpl *Template, job *jobs.ScheduledJob) {
	if r.quota != nil {
		if err := r.quota.RecordGeneration(tmpl.TenantID, job.ScheduledDate); err != nil {
			r.log.Warnw("Failed to record quota usage",
				logger.FieldTenantID, tmpl.TenantID, "error", err)
		}
	}
	if r.notifier != nil {
		if err := r.notifier.JobCreated(job); err != nil {
			r.log.Warnw("Failed to enqueue job notification",
				logger.FieldJobID, job.ID, "error", err)
		}
	}
	if r.broadcaster != nil {
		r.broadcaster.BroadcastJobGenerated(job)
	}
}

func (r *Runner) recordRun(started time.Time, triggeredBy string, result *SweepResult) {
	if r.runs == nil {
		return
	}

	finished := r.timeNow().Format(time.RFC3339)
	run := &Run{
		ID:                 NewRunID(),
		StartedAt:          started.Format(time.RFC3339),
		FinishedAt:         &finished,
		Generated:          result.Generated,
		TemplatesProcessed: result.TemplatesProcessed,
		ErrorCount:         len(result.Errors),
		TriggeredBy:        triggeredBy,
	}
	if len(result.Errors) > 0 {
		if encoded, err := json.Marshal(result.Errors); err == nil {
			s := string(encoded)
			run.Errors = &s
		}
	}

	if err := r.runs.Record(run); err != nil {
		r.log.Warnw("Failed to record sweep run", "error", err)
	}
}

// jobFromTemplate materializes a work order for the template's current
// occurrence. The default assignee is copied only when auto-assign is
// on; otherwise the job starts unassigned even if the template names
// someone.
func jobFromTemplate(tmpl *Template) *jobs.ScheduledJob {
	job := &jobs.ScheduledJob{
		TenantID:            tmpl.TenantID,
		RecurringTemplateID: tmpl.ID,
		ScheduledDate:       tmpl.NextOccurrence,
		Title:               tmpl.Title,
		Description:         tmpl.Description,
		ClientID:            tmpl.ClientID,
		EquipmentID:         tmpl.EquipmentID,
		JobType:             tmpl.JobType,
		Priority:            tmpl.Priority,
		EstimatedMinutes:    tmpl.EstimatedMinutes,
		Address:             tmpl.Address,
		Notes:               tmpl.Notes,
	}
	if tmpl.AutoAssign {
		job.AssignedTo = tmpl.AssigneeID
	}
	return job
}
