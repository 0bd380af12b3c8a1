// Package app wires configuration into a ready-to-run importer.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	bq "github.com/dvloznov/pricepaid-importer/internal/bigquery"
	"github.com/dvloznov/pricepaid-importer/internal/config"
	infraBQ "github.com/dvloznov/pricepaid-importer/internal/infra/bigquery"
	"github.com/dvloznov/pricepaid-importer/internal/jobs"
	jobsmem "github.com/dvloznov/pricepaid-importer/internal/jobs/inmemory"
	"github.com/dvloznov/pricepaid-importer/internal/landregistry"
	"github.com/dvloznov/pricepaid-importer/internal/metrics"
	"github.com/dvloznov/pricepaid-importer/internal/pipeline"
	"github.com/dvloznov/pricepaid-importer/internal/sink"
	"github.com/dvloznov/pricepaid-importer/internal/storage"
	"github.com/dvloznov/pricepaid-importer/internal/storage/gcs"
	"github.com/dvloznov/pricepaid-importer/internal/storage/minio"
	"github.com/dvloznov/pricepaid-importer/internal/storage/s3store"
	"github.com/dvloznov/pricepaid-importer/internal/tracker"
)

// App holds every component of a configured importer.
type App struct {
	Config    *config.Config
	Store     storage.ObjectStore
	Sink      sink.Sink
	Tracker   tracker.Tracker
	Fetcher   landregistry.Fetcher
	Ledger    bq.RunLedger
	Metrics   *metrics.Metrics
	Jobs      jobs.JobStore
	Importer  *pipeline.Importer
	Scheduler *pipeline.Scheduler

	closers []func() error
}

// Option overrides a component built by New. Used by tests and dry runs.
type Option func(*App)

// WithStore replaces the configured object store.
func WithStore(s storage.ObjectStore) Option {
	return func(a *App) { a.Store = s }
}

// WithFetcher replaces the Land Registry client.
func WithFetcher(f landregistry.Fetcher) Option {
	return func(a *App) { a.Fetcher = f }
}

// WithLedger replaces the run ledger.
func WithLedger(l bq.RunLedger) Option {
	return func(a *App) { a.Ledger = l }
}

// New builds the object store, sink, tracker, fetcher, ledger and scheduler
// from cfg.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New(), Jobs: jobsmem.NewStore()}
	for _, opt := range opts {
		opt(a)
	}

	if a.Store == nil {
		store, err := OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
	}

	s, err := sink.New(cfg.Output.Encoding, a.Store, cfg.Output.KeyPrefix)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Sink = s
	a.Tracker = tracker.New(a.Store, cfg.Output.KeyPrefix)

	if a.Fetcher == nil {
		a.Fetcher = landregistry.NewClient(&landregistry.ClientConfig{
			BaseURL:    cfg.Source.URL,
			Timeout:    cfg.Source.Timeout,
			MaxRetries: cfg.Source.MaxRetries,
			RateLimit:  cfg.Source.RateLimit,
			UserAgent:  cfg.Source.UserAgent,
			Logger:     &log,
		})
	}

	if a.Ledger == nil {
		if cfg.LedgerEnabled() {
			ledger, err := infraBQ.NewBigQueryRunLedger(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("New: %w", err)
			}
			a.Ledger = ledger
			a.closers = append(a.closers, ledger.Close)
		} else {
			a.Ledger = bq.NoopLedger{}
		}
	}

	a.Importer = pipeline.NewImporter(pipeline.Deps{
		Fetcher: a.Fetcher,
		Sink:    a.Sink,
		Tracker: a.Tracker,
		Ledger:  a.Ledger,
		Metrics: a.Metrics,
	})
	a.Scheduler = pipeline.NewScheduler(a.Importer, a.Tracker, a.Jobs, a.Metrics, pipeline.Options{
		StartYear: cfg.Import.StartYear,
		Workers:   cfg.Import.Workers,
		FailFast:  cfg.Import.FailFast,
	})

	log.Info().
		Str("bucket", a.Store.Bucket()).
		Str("prefix", cfg.Output.KeyPrefix).
		Str("encoding", cfg.Output.Encoding).
		Str("backend", cfg.Storage.Backend).
		Bool("ledger", cfg.LedgerEnabled()).
		Msg("Importer configured")
	return a, nil
}

// OpenStore connects to the configured storage backend.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendS3:
		store, err := s3store.NewStore(cfg.Storage.Region, cfg.Output.Bucket)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		store, err := gcs.NewStore(ctx, cfg.Output.Bucket)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return store, nil
	case config.BackendMinio:
		store, err := minio.NewStore(minio.Config{
			EndpointURL:     cfg.Storage.MinioEndpoint,
			AccessKeyID:     cfg.Storage.MinioAccessKey,
			SecretAccessKey: cfg.Storage.MinioSecretKey,
			Region:          cfg.Storage.Region,
			UseSSL:          cfg.Storage.MinioUseSSL,
			Bucket:          cfg.Output.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("OpenStore: unknown backend %q", cfg.Storage.Backend)
	}
}

// Close releases clients opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
