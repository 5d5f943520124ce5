// Package dispatch drives the scheduling engine: the recurring pass turns
// enabled schedules into pending jobs, the work pass claims due jobs and
// runs them through the gate chain and the generation collaborator, and
// event intake creates (and possibly immediately runs) event-driven jobs.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gridironlabs/pressbox/errors"
	"github.com/gridironlabs/pressbox/press/gate"
	"github.com/gridironlabs/pressbox/press/job"
	"github.com/gridironlabs/pressbox/press/prefs"
	"github.com/gridironlabs/pressbox/press/schedule"
	"github.com/gridironlabs/pressbox/press/season"
)

// Generator is the content generation collaborator. Called at most once
// per job attempt; may be long-running.
type Generator interface {
	GenerateContent(ctx context.Context, leagueID string, ct schedule.ContentType,
		persona string, contextData map[string]any) (string, error)
}

// CommentNotifier is told about completed jobs whose content type invites
// league-member comments.
type CommentNotifier interface {
	NotifyCommentSubsystem(ctx context.Context, jobID string, maxUsers int,
		leadTime time.Duration) error
}

// commentPolicy holds the per-type notification parameters.
type commentPolicy struct {
	leadTime time.Duration
	maxUsers int
}

// commentEligible is the fixed allow-list of content types that trigger a
// comment-subsystem notification on completion.
var commentEligible = map[schedule.ContentType]commentPolicy{
	schedule.ContentWeeklyRecap:      {leadTime: 24 * time.Hour, maxUsers: 8},
	schedule.ContentPowerRankings:    {leadTime: 12 * time.Hour, maxUsers: 6},
	schedule.ContentMatchupPreview:   {leadTime: 2 * time.Hour, maxUsers: 4},
	schedule.ContentTradeAnalysis:    {leadTime: 2 * time.Hour, maxUsers: 2},
	schedule.ContentRivalrySpotlight: {leadTime: 48 * time.Hour, maxUsers: 4},
}

// RecurringReport summarizes one recurring-schedule pass.
type RecurringReport struct {
	Scanned      int
	Created      int
	SkippedPhase int
	SkippedDedup int
	Errors       int
}

// WorkReport summarizes one work-processing pass.
type WorkReport struct {
	Swept       int
	Claimed     int
	Completed   int
	Cancelled   int
	Retried     int
	Failed      int
	RateLimited bool
}

// Config bounds a Dispatcher's per-tick work.
type Config struct {
	BatchSize          int
	StaleGeneratingAge time.Duration
}

// DefaultConfig returns the standard dispatcher bounds
func DefaultConfig() Config {
	return Config{
		BatchSize:          20,
		StaleGeneratingAge: 2 * time.Hour,
	}
}

// Dispatcher wires the stores, gates, and collaborators together.
type Dispatcher struct {
	schedules   *schedule.Store
	jobs        *job.Store
	preferences *prefs.Store
	gates       *gate.Chain
	generator   Generator
	phases      season.PhaseResolver
	anchors     season.AnchorResolver
	leagues     season.LeagueState
	notifier    CommentNotifier
	limiter     *Limiter
	cfg         Config
	timeNow     func() time.Time
	log         *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher. leagues and notifier are optional;
// when nil, week context and comment notifications are skipped.
func NewDispatcher(
	schedules *schedule.Store,
	jobs *job.Store,
	preferences *prefs.Store,
	gates *gate.Chain,
	generator Generator,
	phases season.PhaseResolver,
	anchors season.AnchorResolver,
	leagues season.LeagueState,
	notifier CommentNotifier,
	limiter *Limiter,
	cfg Config,
	log *zap.SugaredLogger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.StaleGeneratingAge <= 0 {
		cfg.StaleGeneratingAge = DefaultConfig().StaleGeneratingAge
	}
	return &Dispatcher{
		schedules:   schedules,
		jobs:        jobs,
		preferences: preferences,
		gates:       gates,
		generator:   generator,
		phases:      phases,
		anchors:     anchors,
		leagues:     leagues,
		notifier:    notifier,
		limiter:     limiter,
		cfg:         cfg,
		timeNow:     time.Now,
		log:         log,
	}
}

// SetTimeNowForTesting overrides the clock
func (d *Dispatcher) SetTimeNowForTesting(fn func() time.Time) {
	d.timeNow = fn
}

// RunRecurringPass scans enabled weekly and anchored schedules and creates
// pending jobs for their next fire times. It never calls the generator;
// jobs it creates may be scheduled well in the future.
func (d *Dispatcher) RunRecurringPass(ctx context.Context) (RecurringReport, error) {
	var report RecurringReport
	now := d.timeNow().UTC()

	// One phase lookup per pass. On failure the phase filter is skipped and
	// every schedule proceeds to recurrence.
	var phase season.Phase
	phaseKnown := false
	if info, err := d.phases.ResolvePhase(ctx, now); err != nil {
		d.log.Warnw("Season phase lookup failed, recurring pass will not filter by phase",
			"error", err)
	} else {
		phase = info.Phase
		phaseKnown = true
	}

	weekly, err := d.schedules.ListEnabledWeekly()
	if err != nil {
		return report, errors.Wrap(err, "failed to list weekly schedules")
	}

	for _, cfg := range weekly {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}
		report.Scanned++

		// Phase filter runs before recurrence to avoid needless writes
		if phaseKnown && !season.AllowedInPhase(cfg.ContentType, phase) {
			report.SkippedPhase++
			continue
		}

		fireTime, err := schedule.NextFireTime(cfg, now)
		if err != nil {
			report.Errors++
			d.log.Errorw("Failed to compute next fire time",
				"schedule_id", cfg.ID,
				"error", err)
			continue
		}

		if d.createIfClear(ctx, cfg, fireTime, phase, phaseKnown, false, &report) {
			report.Created++
		}
	}

	anchored, err := d.schedules.ListEnabledAnchored()
	if err != nil {
		return report, errors.Wrap(err, "failed to list anchored schedules")
	}

	for _, cfg := range anchored {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}
		report.Scanned++

		if phaseKnown && !season.AllowedInPhase(cfg.ContentType, phase) {
			report.SkippedPhase++
			continue
		}

		// Anchor resolution fails closed: no job rather than a guessed date
		anchor, err := d.anchors.ResolveAnchor(ctx, cfg.LeagueID, anchorName(cfg))
		if err != nil {
			report.Errors++
			d.log.Warnw("Failed to resolve season anchor, skipping schedule",
				"schedule_id", cfg.ID,
				"anchor", anchorName(cfg),
				"error", err)
			continue
		}

		fireTime, err := schedule.AnchorFireTime(cfg, anchor)
		if err != nil {
			report.Errors++
			d.log.Errorw("Failed to compute anchored fire time",
				"schedule_id", cfg.ID,
				"error", err)
			continue
		}

		// An anchor far in the past means the moment for this content has
		// already gone; only the dedup window's worth of lateness is kept.
		if fireTime.Before(now.Add(-job.DedupWindow)) {
			continue
		}

		if d.createIfClear(ctx, cfg, fireTime, phase, phaseKnown, true, &report) {
			report.Created++
		}
	}

	d.log.Infow("Recurring pass complete",
		"scanned", report.Scanned,
		"created", report.Created,
		"skipped_phase", report.SkippedPhase,
		"skipped_dedup", report.SkippedDedup,
		"errors", report.Errors)
	return report, nil
}

// createIfClear checks the dedup window and creates a pending job carrying
// week and phase context. Returns true when a job was created.
//
// Weekly slots advance every week, so only active jobs need to suppress
// creation. Anchored slots (fixedSlot) recompute the same fire time on
// every pass, so a terminal job in the window must suppress too or a
// completed slot would be re-created and re-billed each tick.
func (d *Dispatcher) createIfClear(ctx context.Context, cfg *schedule.Config, fireTime time.Time, phase season.Phase, phaseKnown bool, fixedSlot bool, report *RecurringReport) bool {
	var near bool
	var err error
	if fixedSlot {
		near, err = d.jobs.HasJobNear(cfg.ID, fireTime)
	} else {
		near, err = d.jobs.HasActiveJobNear(cfg.ID, fireTime)
	}
	if err != nil {
		report.Errors++
		d.log.Errorw("Dedup check failed",
			"schedule_id", cfg.ID,
			"error", err)
		return false
	}
	if near {
		report.SkippedDedup++
		return false
	}

	j := job.New(cfg.LeagueID, cfg.ID, cfg.ContentType, fireTime)
	j.ContextData = map[string]any{}
	if phaseKnown {
		j.ContextData["season_phase"] = string(phase)
	}
	if d.leagues != nil {
		if week, err := d.leagues.CurrentWeek(ctx, cfg.LeagueID); err == nil {
			j.ContextData["week"] = week
		}
	}

	if err := d.jobs.Create(j); err != nil {
		report.Errors++
		d.log.Errorw("Failed to create job",
			"schedule_id", cfg.ID,
			"league_id", cfg.LeagueID,
			"error", err)
		return false
	}

	d.log.Infow("Scheduled content job",
		"job_id", j.ID,
		"schedule_id", cfg.ID,
		"league_id", cfg.LeagueID,
		"content_type", cfg.ContentType,
		"scheduled_for", fireTime.Format(time.RFC3339))
	return true
}

// anchorName returns the schedule's anchor for season-based and relative
// recurrences.
func anchorName(cfg *schedule.Config) string {
	switch cfg.Recurrence.Kind {
	case schedule.KindSeasonBased:
		return cfg.Recurrence.Season.Trigger
	case schedule.KindRelativeToEvent:
		return cfg.Recurrence.Relative.RelativeTo
	}
	return ""
}

// RunWorkPass sweeps stale claims, then claims and executes due jobs up to
// the batch size. Jobs are processed independently; one job's failure does
// not abort the batch.
func (d *Dispatcher) RunWorkPass(ctx context.Context) (WorkReport, error) {
	var report WorkReport
	now := d.timeNow().UTC()

	swept, err := d.jobs.SweepStaleGenerating(d.cfg.StaleGeneratingAge)
	if err != nil {
		d.log.Errorw("Stale job sweep failed", "error", err)
	} else if swept > 0 {
		report.Swept = swept
		d.log.Warnw("Returned stale generating jobs to pending", "count", swept)
	}

	due, err := d.jobs.ListDue(now, d.cfg.BatchSize)
	if err != nil {
		return report, errors.Wrap(err, "failed to list due jobs")
	}

	for _, j := range due {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		// A saturated limiter ends the pass; the remaining jobs stay
		// pending without consuming an attempt.
		if err := d.limiter.Allow(); err != nil {
			report.RateLimited = true
			d.log.Warnw("Generation rate limit reached, ending work pass",
				"remaining_jobs", len(due)-report.Claimed,
				"error", err)
			break
		}

		outcome, err := d.processJob(ctx, j)
		if err != nil {
			d.log.Errorw("Failed to process job",
				"job_id", j.ID,
				"league_id", j.LeagueID,
				"error", err)
			continue
		}
		if outcome == "" {
			// Lost the claim race
			continue
		}
		report.Claimed++
		switch outcome {
		case job.StatusCompleted:
			report.Completed++
		case job.StatusCancelled:
			report.Cancelled++
		case job.StatusPending:
			report.Retried++
		case job.StatusFailed:
			report.Failed++
		}
	}

	d.log.Infow("Work pass complete",
		"due", len(due),
		"claimed", report.Claimed,
		"completed", report.Completed,
		"cancelled", report.Cancelled,
		"retried", report.Retried,
		"failed", report.Failed,
		"swept", report.Swept,
		"rate_limited", report.RateLimited)
	return report, nil
}

// processJob claims one job, runs the gate chain, and calls the generator.
// Returns the job's resulting status, or "" when the claim was lost.
func (d *Dispatcher) processJob(ctx context.Context, j *job.Job) (job.Status, error) {
	claimed, err := d.jobs.MarkGenerating(j.ID)
	if err != nil {
		return "", err
	}
	if !claimed {
		d.log.Debugw("Job claimed elsewhere, skipping", "job_id", j.ID)
		return "", nil
	}

	if decision := d.gates.Check(ctx, j); !decision.Allowed {
		if err := d.jobs.Cancel(j.ID, decision.Reason); err != nil {
			return "", err
		}
		d.log.Infow("Job cancelled by policy",
			"job_id", j.ID,
			"league_id", j.LeagueID,
			"reason", decision.Reason)
		return job.StatusCancelled, nil
	}

	persona := d.resolvePersona(j)

	contentID, err := d.generator.GenerateContent(ctx, j.LeagueID, j.ContentType, persona, j.ContextData)
	if err != nil {
		return d.OnJobFailed(j.ID, err)
	}
	if err := d.OnJobCompleted(ctx, j.ID, contentID); err != nil {
		return "", err
	}
	return job.StatusCompleted, nil
}

// resolvePersona reads the preferred persona off the job's schedule, if any
func (d *Dispatcher) resolvePersona(j *job.Job) string {
	if j.ScheduleID == "" {
		return ""
	}
	cfg, err := d.schedules.Get(j.ScheduleID)
	if err != nil {
		d.log.Debugw("Could not resolve persona from schedule",
			"job_id", j.ID,
			"schedule_id", j.ScheduleID,
			"error", err)
		return ""
	}
	return cfg.PreferredPersona
}

// OnJobCompleted records a successful generation: the job completes, the
// league's budget is billed (idempotently), and comment-eligible content
// types notify the comment subsystem.
func (d *Dispatcher) OnJobCompleted(ctx context.Context, jobID, generatedContentID string) error {
	if err := d.jobs.Complete(jobID, generatedContentID); err != nil {
		return err
	}

	j, err := d.jobs.Get(jobID)
	if err != nil {
		return err
	}

	if err := d.preferences.RecordSpend(j.LeagueID, jobID); err != nil {
		// Billing failure does not undo the completed content
		d.log.Errorw("Failed to record content spend",
			"job_id", jobID,
			"league_id", j.LeagueID,
			"error", err)
	}

	if d.notifier != nil {
		if policy, ok := commentEligible[j.ContentType]; ok {
			if err := d.notifier.NotifyCommentSubsystem(ctx, jobID, policy.maxUsers, policy.leadTime); err != nil {
				d.log.Warnw("Comment subsystem notification failed",
					"job_id", jobID,
					"content_type", j.ContentType,
					"error", err)
			}
		}
	}

	d.log.Infow("Job completed",
		"job_id", jobID,
		"league_id", j.LeagueID,
		"content_type", j.ContentType,
		"content_id", generatedContentID)
	return nil
}

// OnJobFailed records a generation failure, re-queueing with backoff while
// attempts remain and failing permanently once they are spent. Returns the
// resulting status.
func (d *Dispatcher) OnJobFailed(jobID string, genErr error) (job.Status, error) {
	status, err := d.jobs.RetryOrFail(jobID, genErr.Error())
	if err != nil {
		return "", err
	}

	if status == job.StatusFailed {
		d.log.Errorw("Job failed permanently",
			"job_id", jobID,
			"error", genErr)
	} else {
		d.log.Warnw("Job attempt failed, will retry",
			"job_id", jobID,
			"retry_in", job.RetryBackoff,
			"error", genErr)
	}
	return status, nil
}

// OnEvent handles an inbound league event. Every enabled event-triggered
// schedule matching the trigger creates a pending job at now + delay;
// zero-delay schedules are dispatched immediately in the same call.
// Returns the number of jobs created.
func (d *Dispatcher) OnEvent(ctx context.Context, leagueID, eventType string, payload map[string]any) (int, error) {
	if leagueID == "" || eventType == "" {
		return 0, errors.NewInvalidRequestError("event requires league id and event type")
	}
	now := d.timeNow().UTC()

	matches, err := d.schedules.ListEventTriggered(leagueID, eventType)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to find schedules for event %s", eventType)
	}

	created := 0
	for _, cfg := range matches {
		fireTime := now.Add(time.Duration(cfg.Recurrence.Event.DelayMinutes) * time.Minute)

		// No dedup on the event path: each event is distinct content (two
		// trades in one afternoon are two analyses), unlike a recurring
		// slot the hourly pass re-derives.
		j := job.New(cfg.LeagueID, cfg.ID, cfg.ContentType, fireTime)
		j.ContextData = map[string]any{"trigger_event": eventType}
		if payload != nil {
			j.ContextData["event_payload"] = payload
		}

		if err := d.jobs.Create(j); err != nil {
			d.log.Errorw("Failed to create event job",
				"schedule_id", cfg.ID,
				"event", eventType,
				"error", err)
			continue
		}
		created++

		d.log.Infow("Event created content job",
			"job_id", j.ID,
			"league_id", leagueID,
			"event", eventType,
			"content_type", cfg.ContentType,
			"delay_minutes", cfg.Recurrence.Event.DelayMinutes)

		// Zero delay means the content should go out with the event, not on
		// the next work tick.
		if cfg.Recurrence.Event.DelayMinutes == 0 {
			if err := d.limiter.Allow(); err != nil {
				d.log.Warnw("Immediate dispatch rate limited, job stays pending",
					"job_id", j.ID,
					"error", err)
				continue
			}
			if _, err := d.processJob(ctx, j); err != nil {
				d.log.Errorw("Immediate dispatch failed",
					"job_id", j.ID,
					"error", err)
			}
		}
	}

	return created, nil
}
