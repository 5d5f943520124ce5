// Package gate holds the policies consulted immediately before a content
// job executes. Gates are checked in a fixed order and the first rejection
// wins; its reason string ends up on the cancelled job.
//
// Gates never return errors. Missing data is interpreted per policy:
// explicit disabled flags deny, a failed season-phase lookup allows.
package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gridironlabs/pressbox/errors"
	"github.com/gridironlabs/pressbox/press/job"
	"github.com/gridironlabs/pressbox/press/prefs"
	"github.com/gridironlabs/pressbox/press/schedule"
	"github.com/gridironlabs/pressbox/press/season"
)

// Decision is a gate's verdict for one job attempt.
type Decision struct {
	Allowed bool
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Gate decides whether a claimed job may proceed to generation.
type Gate interface {
	Name() string
	Check(ctx context.Context, j *job.Job) Decision
}

// Chain evaluates gates in order and stops at the first rejection.
type Chain struct {
	gates []Gate
}

// NewChain builds the standard gate order: schedule enabled, league
// content enabled, budget, season phase.
func NewChain(schedules *schedule.Store, preferences *prefs.Store, phases season.PhaseResolver, log *zap.SugaredLogger) *Chain {
	return &Chain{
		gates: []Gate{
			&ScheduleEnabledGate{schedules: schedules, log: log},
			&LeagueEnabledGate{preferences: preferences, log: log},
			&BudgetGate{preferences: preferences, log: log},
			&SeasonPhaseGate{phases: phases, log: log},
		},
	}
}

// Check runs the chain. The returned decision carries the first rejecting
// gate's reason, or allows when every gate passes.
func (c *Chain) Check(ctx context.Context, j *job.Job) Decision {
	for _, g := range c.gates {
		if d := g.Check(ctx, j); !d.Allowed {
			return d
		}
	}
	return allow
}

// ScheduleEnabledGate rejects jobs whose originating schedule has been
// disabled or removed since the job was created. Ad-hoc jobs with no
// schedule pass.
type ScheduleEnabledGate struct {
	schedules *schedule.Store
	log       *zap.SugaredLogger
}

func (g *ScheduleEnabledGate) Name() string { return "schedule_enabled" }

func (g *ScheduleEnabledGate) Check(_ context.Context, j *job.Job) Decision {
	if j.ScheduleID == "" {
		return allow
	}
	cfg, err := g.schedules.Get(j.ScheduleID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return deny("schedule no longer exists: " + j.ScheduleID)
		}
		g.log.Errorw("Schedule lookup failed in gate check",
			"job_id", j.ID,
			"schedule_id", j.ScheduleID,
			"error", err)
		return deny("schedule lookup failed: " + j.ScheduleID)
	}
	if !cfg.Enabled {
		return deny("schedule disabled: " + j.ScheduleID)
	}
	return allow
}

// LeagueEnabledGate rejects jobs for leagues that turned content off.
type LeagueEnabledGate struct {
	preferences *prefs.Store
	log         *zap.SugaredLogger
}

func (g *LeagueEnabledGate) Name() string { return "league_enabled" }

func (g *LeagueEnabledGate) Check(_ context.Context, j *job.Job) Decision {
	p, err := g.preferences.GetOrCreate(j.LeagueID)
	if err != nil {
		g.log.Errorw("Preferences lookup failed in gate check",
			"job_id", j.ID,
			"league_id", j.LeagueID,
			"error", err)
		return deny("preferences lookup failed for league: " + j.LeagueID)
	}
	if !p.ContentEnabled {
		return deny("league content disabled: " + j.LeagueID)
	}
	return allow
}

// BudgetGate rejects jobs once the league's monthly budget is spent.
// Leagues without a budget always pass.
type BudgetGate struct {
	preferences *prefs.Store
	log         *zap.SugaredLogger
}

func (g *BudgetGate) Name() string { return "budget" }

func (g *BudgetGate) Check(_ context.Context, j *job.Job) Decision {
	p, err := g.preferences.GetOrCreate(j.LeagueID)
	if err != nil {
		g.log.Errorw("Preferences lookup failed in budget check",
			"job_id", j.ID,
			"league_id", j.LeagueID,
			"error", err)
		return deny("preferences lookup failed for league: " + j.LeagueID)
	}
	if p.BudgetExhausted() {
		return deny(fmt.Sprintf("monthly content budget exceeded: %d/%d", p.CurrentMonthSpent, *p.MonthlyBudget))
	}
	return allow
}

// SeasonPhaseGate rejects season-dependent content outside active phases.
// A failed phase lookup skips the gate entirely: blocking all content on
// the season service's outage is worse than occasionally generating during
// an invalid phase.
type SeasonPhaseGate struct {
	phases season.PhaseResolver
	log    *zap.SugaredLogger
}

func (g *SeasonPhaseGate) Name() string { return "season_phase" }

func (g *SeasonPhaseGate) Check(ctx context.Context, j *job.Job) Decision {
	info, err := g.phases.ResolvePhase(ctx, j.ScheduledFor)
	if err != nil {
		g.log.Warnw("Season phase lookup failed, skipping gate",
			"job_id", j.ID,
			"error", err)
		return allow
	}
	if !season.AllowedInPhase(j.ContentType, info.Phase) {
		return deny(fmt.Sprintf("content type %s not valid during %s", j.ContentType, info.Phase))
	}
	return allow
}
