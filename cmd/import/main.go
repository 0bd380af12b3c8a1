package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/pricepaid-importer/internal/app"
	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/config"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailures = 1
	exitConfig   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Error().Err(err).Bool("configuration", apperrors.IsConfiguration(err)).Msg("Failed to load configuration")
		return exitConfig
	}

	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	// Stop between periods on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialise importer")
		return exitConfig
	}
	defer a.Close()

	summary, runErr := a.Scheduler.Run(ctx, "cli")

	if cfg.Metrics.PushgatewayURL != "" {
		if err := a.Metrics.Push(context.WithoutCancel(ctx), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			log.Warn().Err(err).Str("url", cfg.Metrics.PushgatewayURL).Msg("Failed to push metrics")
		}
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("Import run stopped")
		return exitFailures
	}
	if summary.Failed > 0 {
		return exitFailures
	}
	return exitOK
}
