package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/patchwell/courier/internal/automation"
	"github.com/patchwell/courier/internal/config"
	"github.com/patchwell/courier/internal/database"
	"github.com/patchwell/courier/internal/dispatch"
	"github.com/patchwell/courier/internal/ratelimit"
	"github.com/patchwell/courier/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch service",
	Long: `Start the courier dispatch service.

The service will:
  - Open (and migrate) the SQLite database
  - Recover automation schedules from the database
  - Start the dispatch queue, automation scheduler and admin server
  - Shut down gracefully on SIGINT/SIGTERM`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		log.Warn().Err(err).Msg("No config file found, using defaults")
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	applyLogging(&cfg.Logging)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	log.Info().Str("path", cfg.Database.Path).Msg("Database ready")

	var overrides *ratelimit.Overrides
	if cfg.Dispatch.TenantOverridesPath != "" {
		overrides, err = ratelimit.LoadOverrides(cfg.Dispatch.TenantOverridesPath)
		if err != nil {
			return fmt.Errorf("loading tenant overrides: %w", err)
		}
		if err := overrides.Watch(); err != nil {
			log.Warn().Err(err).Msg("Failed to watch tenant overrides, continuing without hot-reload")
		} else {
			defer overrides.Close()
		}
		log.Info().
			Str("path", cfg.Dispatch.TenantOverridesPath).
			Int("tenants", overrides.Len()).
			Msg("Tenant overrides loaded")
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultLimitPerMinute: cfg.Dispatch.DefaultLimitPerMinute,
		PollInterval:          cfg.Dispatch.CapacityPollInterval,
		Overrides:             overrides,
	})
	defer limiter.Stop()

	provider, err := dispatch.NewProvider(&cfg.Provider)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	tracker := dispatch.NewAttemptStore(db)
	runStore := dispatch.NewRunStore(db)

	queue := dispatch.NewQueue(limiter, provider, tracker, dispatch.QueueConfig{
		Tick:         cfg.Dispatch.QueueTick,
		MaxAge:       cfg.Dispatch.QueueMaxAge,
		FromIdentity: cfg.Provider.FromIdentity,
	})
	queue.Start()
	defer queue.Stop()

	runner := dispatch.NewRunner(limiter, provider, tracker, runStore, dispatch.RunnerConfig{
		CampaignFloorPerMinute: cfg.Dispatch.CampaignFloorPerMinute,
		CheckpointInterval:     cfg.Dispatch.CheckpointInterval,
		CheckpointEvery:        cfg.Dispatch.CheckpointEvery,
		SendTimeout:            cfg.Provider.Timeout,
		FromIdentity:           cfg.Provider.FromIdentity,
	})

	automationStore := automation.NewStore(db)
	scheduler := automation.NewScheduler(automationStore, fireAutomation(queue), automation.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
	})

	if err := scheduler.Recover(context.Background()); err != nil {
		return fmt.Errorf("recovering automations: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Admin.Enabled {
		srv := server.New(&cfg.Admin, db, limiter, queue, runStore, runner, automationStore)

		go func() {
			<-sigChan
			log.Info().Msg("Shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Admin server shutdown failed")
			}
		}()

		return srv.Start()
	}

	<-sigChan
	log.Info().Msg("Shutdown signal received")
	return nil
}

// fireAutomation hands a due automation's messages to the dispatch
// queue. Sends ride the ad-hoc path, so a tenant whose window is full
// gets them deferred rather than dropped.
func fireAutomation(queue *dispatch.Queue) automation.FireFunc {
	return func(ctx context.Context, a *automation.Automation) error {
		log.Info().
			Str("automation_id", a.ID).
			Str("automation_name", a.Name).
			Str("tenant_id", a.TenantID).
			Int("recipients", len(a.Recipients)).
			Msg("Automation due")

		var firstErr error
		for _, to := range a.Recipients {
			if _, err := queue.Send(ctx, dispatch.Message{
				TenantID: a.TenantID,
				To:       to,
				Body:     a.Message,
			}); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}
