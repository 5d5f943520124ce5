package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RunnerConfig holds the two pass intervals.
type RunnerConfig struct {
	RecurringInterval time.Duration
	WorkInterval      time.Duration
}

// DefaultRunnerConfig returns the standard intervals: hourly recurring
// pass, five minute work pass.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		RecurringInterval: time.Hour,
		WorkInterval:      5 * time.Minute,
	}
}

// Runner drives the dispatcher's two passes on independent timers.
type Runner struct {
	dispatcher *Dispatcher
	cfg        RunnerConfig
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	log        *zap.SugaredLogger
}

// NewRunner creates a runner with a parent context for shutdown.
func NewRunner(ctx context.Context, dispatcher *Dispatcher, cfg RunnerConfig, log *zap.SugaredLogger) *Runner {
	if cfg.RecurringInterval <= 0 {
		cfg.RecurringInterval = DefaultRunnerConfig().RecurringInterval
	}
	if cfg.WorkInterval <= 0 {
		cfg.WorkInterval = DefaultRunnerConfig().WorkInterval
	}
	runnerCtx, cancel := context.WithCancel(ctx)
	return &Runner{
		dispatcher: dispatcher,
		cfg:        cfg,
		ctx:        runnerCtx,
		cancel:     cancel,
		log:        log,
	}
}

// Start launches both pass loops. Each pass also runs once immediately so
// a restart does not wait a full interval to pick up overdue work.
func (r *Runner) Start() {
	r.wg.Add(2)
	go r.runRecurringLoop()
	go r.runWorkLoop()
	r.log.Infow("Dispatch runner started",
		"recurring_interval", r.cfg.RecurringInterval,
		"work_interval", r.cfg.WorkInterval)
}

// Stop cancels both loops and waits for them to finish
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	r.log.Infow("Dispatch runner stopped")
}

func (r *Runner) runRecurringLoop() {
	defer r.wg.Done()

	if _, err := r.dispatcher.RunRecurringPass(r.ctx); err != nil {
		r.log.Warnw("Recurring pass error", "error", err)
	}

	ticker := time.NewTicker(r.cfg.RecurringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.dispatcher.RunRecurringPass(r.ctx); err != nil {
				r.log.Warnw("Recurring pass error", "error", err)
			}
		}
	}
}

func (r *Runner) runWorkLoop() {
	defer r.wg.Done()

	if _, err := r.dispatcher.RunWorkPass(r.ctx); err != nil {
		r.log.Warnw("Work pass error", "error", err)
	}

	ticker := time.NewTicker(r.cfg.WorkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.dispatcher.RunWorkPass(r.ctx); err != nil {
				r.log.Warnw("Work pass error", "error", err)
			}
		}
	}
}
