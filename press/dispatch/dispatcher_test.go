package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridironlabs/pressbox/errors"
	pbtest "github.com/gridironlabs/pressbox/internal/testing"
	"github.com/gridironlabs/pressbox/internal/util"
	"github.com/gridironlabs/pressbox/logger"
	"github.com/gridironlabs/pressbox/press/dispatch"
	"github.com/gridironlabs/pressbox/press/gate"
	"github.com/gridironlabs/pressbox/press/job"
	"github.com/gridironlabs/pressbox/press/prefs"
	"github.com/gridironlabs/pressbox/press/schedule"
	"github.com/gridironlabs/pressbox/press/season"
)

type genCall struct {
	leagueID    string
	contentType schedule.ContentType
	persona     string
	contextData map[string]any
}

type stubGenerator struct {
	mu    sync.Mutex
	calls []genCall
	err   error
}

func (g *stubGenerator) GenerateContent(_ context.Context, leagueID string, ct schedule.ContentType, persona string, contextData map[string]any) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, genCall{leagueID, ct, persona, contextData})
	if g.err != nil {
		return "", g.err
	}
	return "content-1", nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type stubPhases struct {
	phase season.Phase
	err   error
}

func (s *stubPhases) ResolvePhase(context.Context, time.Time) (season.PhaseInfo, error) {
	if s.err != nil {
		return season.PhaseInfo{}, s.err
	}
	return season.PhaseInfo{Phase: s.phase}, nil
}

type stubAnchors struct {
	anchors map[string]time.Time
}

func (s *stubAnchors) ResolveAnchor(_ context.Context, _, name string) (time.Time, error) {
	t, ok := s.anchors[name]
	if !ok {
		return time.Time{}, errors.Newf("unknown anchor: %s", name)
	}
	return t, nil
}

type stubLeagues struct{ week int }

func (s *stubLeagues) CurrentWeek(context.Context, string) (int, error) {
	return s.week, nil
}

type notification struct {
	jobID    string
	maxUsers int
	leadTime time.Duration
}

type stubNotifier struct {
	mu            sync.Mutex
	notifications []notification
}

func (s *stubNotifier) NotifyCommentSubsystem(_ context.Context, jobID string, maxUsers int, leadTime time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, notification{jobID, maxUsers, leadTime})
	return nil
}

type fixture struct {
	schedules   *schedule.Store
	jobs        *job.Store
	preferences *prefs.Store
	generator   *stubGenerator
	phases      *stubPhases
	anchors     *stubAnchors
	notifier    *stubNotifier
	limiter     *dispatch.Limiter
	dispatcher  *dispatch.Dispatcher
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	db := pbtest.CreateTestDB(t)
	log := logger.NewTestLogger()

	f := &fixture{
		schedules:   schedule.NewStore(db),
		jobs:        job.NewStore(db),
		preferences: prefs.NewStore(db),
		generator:   &stubGenerator{},
		phases:      &stubPhases{phase: season.PhaseRegularSeason},
		anchors:     &stubAnchors{anchors: map[string]time.Time{}},
		notifier:    &stubNotifier{},
		now:         time.Date(2025, 10, 6, 10, 0, 0, 0, time.UTC), // a Monday
	}
	f.limiter = dispatch.NewLimiterWithClock(100, func() time.Time { return f.now })
	gates := gate.NewChain(f.schedules, f.preferences, f.phases, log)
	f.dispatcher = dispatch.NewDispatcher(
		f.schedules, f.jobs, f.preferences, gates,
		f.generator, f.phases, f.anchors, &stubLeagues{week: 5}, f.notifier,
		f.limiter, dispatch.DefaultConfig(), log,
	)
	f.dispatcher.SetTimeNowForTesting(func() time.Time { return f.now })
	f.jobs.SetTimeNowForTesting(func() time.Time { return f.now })
	return f
}

func (f *fixture) addWeekly(t *testing.T, id, leagueID string, ct schedule.ContentType) *schedule.Config {
	cfg := &schedule.Config{
		ID:          id,
		LeagueID:    leagueID,
		ContentType: ct,
		Enabled:     true,
		Timezone:    "UTC",
		Recurrence: schedule.Recurrence{
			Kind:   schedule.KindWeekly,
			Weekly: &schedule.Weekly{DayOfWeek: time.Tuesday, Hour: 11},
		},
	}
	require.NoError(t, f.schedules.Create(cfg))
	return cfg
}

func (f *fixture) addEventTriggered(t *testing.T, id, leagueID, trigger string, delayMinutes int) *schedule.Config {
	cfg := &schedule.Config{
		ID:          id,
		LeagueID:    leagueID,
		ContentType: schedule.ContentTradeAnalysis,
		Enabled:     true,
		Timezone:    "UTC",
		Recurrence: schedule.Recurrence{
			Kind:  schedule.KindEventTriggered,
			Event: &schedule.EventTriggered{Trigger: trigger, DelayMinutes: delayMinutes},
		},
	}
	require.NoError(t, f.schedules.Create(cfg))
	return cfg
}

// dueJob creates a pending job whose fire time has already passed
func (f *fixture) dueJob(t *testing.T, scheduleID string, ct schedule.ContentType) *job.Job {
	j := job.New("league-1", scheduleID, ct, f.now.Add(-time.Hour))
	require.NoError(t, f.jobs.Create(j))
	return j
}

func TestRecurringPassCreatesJobs(t *testing.T) {
	f := newFixture(t)
	f.addWeekly(t, "sched-1", "league-1", schedule.ContentWeeklyRecap)

	report, err := f.dispatcher.RunRecurringPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.SkippedDedup)

	jobs, err := f.jobs.ListByLeague("league-1", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	j := jobs[0]
	assert.Equal(t, job.StatusPending, j.Status)
	// Tuesday 11:00 UTC, the day after the Monday "now"
	assert.True(t, j.ScheduledFor.Equal(time.Date(2025, 10, 7, 11, 0, 0, 0, time.UTC)))
	assert.Equal(t, "REGULAR_SEASON", j.ContextData["season_phase"])
	assert.Equal(t, float64(5), j.ContextData["week"])
}

func TestRecurringPassIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addWeekly(t, "sched-1", "league-1", schedule.ContentWeeklyRecap)

	report, err := f.dispatcher.RunRecurringPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	// A second pass inside the dedup window creates nothing
	report, err = f.dispatcher.RunRecurringPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 1, report.SkippedDedup)
}

func TestRecurringPassOffseasonFiltering(t *testing.T) {
	f := newFixture(t)
	f.phases.phase = season.PhaseOffseason

	// Two season-dependent, one season-independent
	f.addWeekly(t, "sched-1", "league-1", schedule.ContentWeeklyRecap)
	f.addWeekly(t, "sched-2", "league-1", schedule.ContentPowerRankings)
	f.addWeekly(t, "sched-3", "league-1", schedule.ContentTradeAnalysis)

	report, err := f.dispatcher.RunRecurringPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, report.SkippedPhase)
}

func TestRecurringPassPhaseLookupFailureDoesNotFilter(t *testing.T) {
	f := newFixture(t)
	f.phases.err = errors.New("season service down")
	f.addWeekly(t, "sched-1", "league-1", schedule.ContentWeeklyRecap)

	report, err := f.dispatcher.RunRecurringPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.SkippedPhase)
}

func TestRecurringPassAnchorFailsClosed(t *testing.T) {
	f := newFixture(t)
	cfg := &schedule.Config{
		ID:          "sched-sp",
		LeagueID:    "league-1",
		ContentType: schedule.ContentSeasonPreview,
		Enabled:     true,
		Timezone:    "UTC",
		Recurrence: schedule.Recurrence{
			Kind:   schedule.KindSeasonBased,
			Season: &schedule.SeasonBased{Trigger: "season_start", DelayDays: -7, Hour: 10},
		},
	}
	require.NoError(t, f.schedules.Create(cfg))

	// No anchor registered: resolution fails, no job is created
	report, err := f.dispatcher.RunRecurringPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 1, report.Errors)

	// Anchor resolvable: the job appears
	f.anchors.anchors["season_start"] = f.now.AddDate(0, 0, 14)
	report, err = f.dispatcher.RunRecurringPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	jobs, err := f.jobs.ListByLeague("league-1", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].ScheduledFor.Equal(f.now.AddDate(0, 0, 7).Truncate(24*time.Hour).Add(10*time.Hour)))
}

func TestRecurringPassAnchoredSlotRunsOnce(t *testing.T) {
	f := newFixture(t)
	cfg := &schedule.Config{
		ID:          "sched-sp",
		LeagueID:    "league-1",
		ContentType: schedule.ContentSeasonPreview,
		Enabled:     true,
		Timezone:    "UTC",
		Recurrence: schedule.Recurrence{
			Kind:   schedule.KindSeasonBased,
			Season: &schedule.SeasonBased{Trigger: "season_start", Hour: 9},
		},
	}
	require.NoError(t, f.schedules.Create(cfg))
	f.anchors.anchors["season_start"] = f.now

	// The slot fired an hour ago: one job, completed by the work pass
	report, err := f.dispatcher.RunRecurringPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)

	work, err := f.dispatcher.RunWorkPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, work.Completed)

	// The next tick recomputes the same fixed fire time; the completed
	// slot must not be re-created or re-billed
	f.now = f.now.Add(time.Hour)
	report, err = f.dispatcher.RunRecurringPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 1, report.SkippedDedup)

	_, err = f.dispatcher.RunWorkPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.generator.callCount())

	p, err := f.preferences.GetOrCreate("league-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentMonthSpent)
}

func TestWorkPassCompletesJob(t *testing.T) {
	f := newFixture(t)
	cfg := f.addWeekly(t, "sched-1", "league-1", schedule.ContentWeeklyRecap)
	cfg.PreferredPersona = "stats_nerd"
	// Recreate with persona set
	require.NoError(t, f.schedules.Delete(cfg.ID))
	require.NoError(t, f.schedules.Create(cfg))

	j := f.dueJob(t, "sched-1", schedule.ContentWeeklyRecap)

	report, err := f.dispatcher.RunWorkPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Completed)

	got, err := f.jobs.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, "content-1", got.GeneratedContentID)

	require.Equal(t, 1, f.generator.callCount())
	assert.Equal(t, "stats_nerd", f.generator.calls[0].persona)

	// Spend was billed
	p, err := f.preferences.GetOrCreate("league-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentMonthSpent)

	// weekly_recap is comment-eligible: 8 users, 24h lead
	require.Len(t, f.notifier.notifications, 1)
	assert.Equal(t, j.ID, f.notifier.notifications[0].jobID)
	assert.Equal(t, 8, f.notifier.notifications[0].maxUsers)
	assert.Equal(t, 24*time.Hour, f.notifier.notifications[0].leadTime)
}

func TestWorkPassCancelsGatedJob(t *testing.T) {
	f := newFixture(t)
	f.addWeekly(t, "sched-1", "league-1", schedule.ContentWeeklyRecap)

	p, err := f.preferences.GetOrCreate("league-1")
	require.NoError(t, err)
	p.ContentEnabled = false
	require.NoError(t, f.preferences.Update(p))

	j := f.dueJob(t, "sched-1", schedule.ContentWeeklyRecap)

	report, err := f.dispatcher.RunWorkPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 0, f.generator.callCount(), "generator must not run for a gated job")

	got, err := f.jobs.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, got.Status)
	assert.Contains(t, got.ErrorMessage, "league content disabled")
	assert.Equal(t, 0, got.Attempts, "a policy cancel does not consume retry budget")
}

func TestWorkPassRetriesThenFails(t *testing.T) {
	f := newFixture(t)
	f.addWeekly(t, "sched-1", "league-1", schedule.ContentWeeklyRecap)
	f.generator.err = errors.New("upstream timeout")

	j := f.dueJob(t, "sched-1", schedule.ContentWeeklyRecap)

	// First two attempts re-queue with backoff
	for attempt := 1; attempt <= 2; attempt++ {
		report, err := f.dispatcher.RunWorkPass(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Retried, "attempt %d", attempt)

		got, err := f.jobs.Get(j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusPending, got.Status)
		assert.Equal(t, attempt, got.Attempts)

		// Step past the backoff for the next attempt
		f.now = f.now.Add(job.RetryBackoff + time.Minute)
	}

	// Third attempt exhausts the budget
	report, err := f.dispatcher.RunWorkPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	got, err := f.jobs.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "upstream timeout", got.ErrorMessage)
	assert.Equal(t, 3, f.generator.callCount())
}

func TestWorkPassIsolatesJobFailures(t *testing.T) {
	f := newFixture(t)
	f.addWeekly(t, "sched-1", "league-1", schedule.ContentWeeklyRecap)
	f.addWeekly(t, "sched-2", "league-1", schedule.ContentPowerRankings)
	f.generator.err = errors.New("upstream timeout")

	f.dueJob(t, "sched-1", schedule.ContentWeeklyRecap)
	f.dueJob(t, "sched-2", schedule.ContentPowerRankings)

	report, err := f.dispatcher.RunWorkPass(context.Background())
	require.NoError(t, err)
	// Both jobs were attempted despite both failing
	assert.Equal(t, 2, report.Claimed)
	assert.Equal(t, 2, report.Retried)
	assert.Equal(t, 2, f.generator.callCount())
}

func TestWorkPassRateLimited(t *testing.T) {
	f := newFixture(t)
	f.addWeekly(t, "sched-1", "league-1", schedule.ContentWeeklyRecap)
	f.addWeekly(t, "sched-2", "league-1", schedule.ContentPowerRankings)
	f.limiter.SetLimit(1)

	f.dueJob(t, "sched-1", schedule.ContentWeeklyRecap)
	j2 := f.dueJob(t, "sched-2", schedule.ContentPowerRankings)

	report, err := f.dispatcher.RunWorkPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Completed)
	assert.True(t, report.RateLimited)

	// The second job stays pending with no attempt consumed
	got, err := f.jobs.Get(j2.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
}

func TestWorkPassSweepsStaleClaims(t *testing.T) {
	f := newFixture(t)
	f.addWeekly(t, "sched-1", "league-1", schedule.ContentWeeklyRecap)

	j := f.dueJob(t, "sched-1", schedule.ContentWeeklyRecap)
	claimed, err := f.jobs.MarkGenerating(j.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// Three hours later the claim is stale: swept to pending and re-run
	f.now = f.now.Add(3 * time.Hour)

	report, err := f.dispatcher.RunWorkPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Swept)
	assert.Equal(t, 1, report.Completed)
}

func TestOnEventImmediateDispatch(t *testing.T) {
	f := newFixture(t)
	f.addEventTriggered(t, "sched-tr", "league-1", "trade_completed", 0)

	created, err := f.dispatcher.OnEvent(context.Background(), "league-1", "trade_completed",
		map[string]any{"trade_id": "t-99"})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// Zero delay: generation ran inside the same call
	require.Equal(t, 1, f.generator.callCount())
	call := f.generator.calls[0]
	assert.Equal(t, "league-1", call.leagueID)
	assert.Equal(t, schedule.ContentTradeAnalysis, call.contentType)
	assert.Equal(t, "trade_completed", call.contextData["trigger_event"])

	jobs, err := f.jobs.ListByLeague("league-1", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.StatusCompleted, jobs[0].Status)
	payload, ok := jobs[0].ContextData["event_payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "t-99", payload["trade_id"])
}

func TestOnEventDelayedJobWaits(t *testing.T) {
	f := newFixture(t)
	f.addEventTriggered(t, "sched-tr", "league-1", "trade_completed", 45)

	created, err := f.dispatcher.OnEvent(context.Background(), "league-1", "trade_completed", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, f.generator.callCount(), "delayed job must wait for the work pass")

	jobs, err := f.jobs.ListByLeague("league-1", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.StatusPending, jobs[0].Status)
	assert.True(t, jobs[0].ScheduledFor.Equal(f.now.Add(45*time.Minute)))

	// Not due yet
	report, err := f.dispatcher.RunWorkPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)

	// Due after the delay
	f.now = f.now.Add(46 * time.Minute)
	report, err = f.dispatcher.RunWorkPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
}

func TestOnEventNoMatchingSchedule(t *testing.T) {
	f := newFixture(t)
	f.addEventTriggered(t, "sched-tr", "league-1", "trade_completed", 0)

	created, err := f.dispatcher.OnEvent(context.Background(), "league-1", "draft_completed", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	created, err = f.dispatcher.OnEvent(context.Background(), "league-2", "trade_completed", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestOnEventEachEventCreatesAJob(t *testing.T) {
	f := newFixture(t)
	f.addEventTriggered(t, "sched-tr", "league-1", "trade_completed", 45)

	created, err := f.dispatcher.OnEvent(context.Background(), "league-1", "trade_completed",
		map[string]any{"trade_id": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// A second trade 10 minutes later is distinct content, not a duplicate
	// of the still-pending first job
	f.now = f.now.Add(10 * time.Minute)
	created, err = f.dispatcher.OnEvent(context.Background(), "league-1", "trade_completed",
		map[string]any{"trade_id": "t-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	jobs, err := f.jobs.ListByLeague("league-1", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestOnEventValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.OnEvent(context.Background(), "", "trade_completed", nil)
	assert.Error(t, err)
	_, err = f.dispatcher.OnEvent(context.Background(), "league-1", "", nil)
	assert.Error(t, err)
}

func TestOnJobCompletedIdempotentBilling(t *testing.T) {
	f := newFixture(t)
	p, err := f.preferences.GetOrCreate("league-1")
	require.NoError(t, err)
	p.MonthlyBudget = util.Ptr(10)
	require.NoError(t, f.preferences.Update(p))

	j := job.New("league-1", "", schedule.ContentTradeAnalysis, f.now.Add(-time.Minute))
	require.NoError(t, f.jobs.Create(j))
	claimed, err := f.jobs.MarkGenerating(j.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, f.dispatcher.OnJobCompleted(context.Background(), j.ID, "content-7"))

	// A duplicate callback cannot complete again, and billing stays at one
	assert.Error(t, f.dispatcher.OnJobCompleted(context.Background(), j.ID, "content-7"))

	p, err = f.preferences.GetOrCreate("league-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentMonthSpent)
}
