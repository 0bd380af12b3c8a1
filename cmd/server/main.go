package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dvloznov/pricepaid-importer/internal/api"
	"github.com/dvloznov/pricepaid-importer/internal/api/handlers"
	"github.com/dvloznov/pricepaid-importer/internal/app"
	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/config"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to configure logger")
	}

	// Runs are bound to this context so shutdown stops them between periods.
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise importer")
	}
	defer a.Close()

	runner := handlers.NewRunner(a.Scheduler, log)

	scheduler, err := startCron(ctx, cfg.Server.Schedule, runner, log)
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Server.Schedule).Msg("Invalid import schedule")
	}

	router := api.NewRouter(api.Handlers{
		Imports: handlers.NewImportsHandler(ctx, runner, log),
		Periods: handlers.NewPeriodsHandler(a.Scheduler, a.Tracker, log),
		Jobs:    handlers.NewJobsHandler(a.Jobs, log),
		Metrics: a.Metrics.Handler(),
	}, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("schedule", cfg.Server.Schedule).Msg("Starting import server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// No new cron triggers; in-flight cron jobs are tracked by the runner.
	scheduler.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop the current run between periods and wait for it to return.
	cancel()
	if err := runner.Wait(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Import run did not stop in time")
	}

	log.Info().Msg("Server exited")
}

// startCron schedules full import runs. A trigger that fires while a run is
// in progress is skipped.
func startCron(ctx context.Context, schedule string, runner *handlers.Runner, log zerolog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(schedule, func() {
		summary, err := runner.Run(ctx, "cron", nil)
		switch {
		case errors.Is(err, apperrors.ErrImportInProgress):
			log.Warn().Msg("Skipping scheduled import: previous run still in progress")
		case err != nil:
			log.Error().Err(err).Msg("Scheduled import stopped")
		default:
			log.Info().Str("run_id", summary.RunID).Int("imported", summary.Imported).Int("failed", summary.Failed).Msg("Scheduled import finished")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
