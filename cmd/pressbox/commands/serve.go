package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridironlabs/pressbox/config"
	"github.com/gridironlabs/pressbox/db"
	"github.com/gridironlabs/pressbox/errors"
	"github.com/gridironlabs/pressbox/logger"
	"github.com/gridironlabs/pressbox/press/dispatch"
	"github.com/gridironlabs/pressbox/press/gate"
	"github.com/gridironlabs/pressbox/press/job"
	"github.com/gridironlabs/pressbox/press/prefs"
	"github.com/gridironlabs/pressbox/press/remote"
	"github.com/gridironlabs/pressbox/press/schedule"
)

// ServeCmd runs the dispatcher daemon
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the content dispatcher daemon",
	Long: `Runs both dispatcher loops until interrupted:
the recurring-schedule pass (hourly by default) and the work-processing
pass (every 5 minutes by default). Applies pending database migrations on
startup and live-reloads generation limits when the config file changes.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Named("serve")

	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	conn, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(conn, log); err != nil {
		return errors.Wrap(err, "migrations failed")
	}

	collaborators := remote.NewClient(cfg.Collaborators.BaseURL,
		time.Duration(cfg.Collaborators.TimeoutSeconds)*time.Second)

	schedules := schedule.NewStore(conn)
	jobs := job.NewStore(conn)
	preferences := prefs.NewStore(conn)
	gates := gate.NewChain(schedules, preferences, collaborators, log)
	limiter := dispatch.NewLimiter(cfg.Generation.MaxCallsPerMinute)

	dispatcher := dispatch.NewDispatcher(
		schedules, jobs, preferences, gates,
		collaborators, collaborators, collaborators, collaborators, collaborators,
		limiter,
		dispatch.Config{
			BatchSize:          cfg.Dispatcher.BatchSize,
			StaleGeneratingAge: time.Duration(cfg.Dispatcher.StaleGeneratingHours) * time.Hour,
		},
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := dispatch.NewRunner(ctx, dispatcher, dispatch.RunnerConfig{
		RecurringInterval: time.Duration(cfg.Dispatcher.RecurringIntervalMinutes) * time.Minute,
		WorkInterval:      time.Duration(cfg.Dispatcher.WorkIntervalMinutes) * time.Minute,
	}, log)
	runner.Start()

	// Live-reload the generation rate limit on config file changes
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, log)
		if err != nil {
			log.Warnw("Config watcher unavailable", "error", err)
		} else {
			watcher.OnReload(func(newCfg *config.Config) error {
				limiter.SetLimit(newCfg.Generation.MaxCallsPerMinute)
				log.Infow("Applied reloaded generation limit",
					"max_calls_per_minute", newCfg.Generation.MaxCallsPerMinute)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	log.Infow("Pressbox dispatcher running",
		"database", cfg.Database.Path,
		"collaborators", cfg.Collaborators.BaseURL)

	<-ctx.Done()
	log.Infow("Shutting down")
	runner.Stop()
	return nil
}

// loadConfig honors the --config flag, falling back to the upward search
// for pressbox.toml. Returns the resolved path for the watcher, empty when
// running on defaults only.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		cfg, err := config.LoadFromFile(path)
		return cfg, path, err
	}
	cfg, err := config.Load()
	return cfg, config.FindProjectConfig(), err
}
