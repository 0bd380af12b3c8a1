package pipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	bq "github.com/dvloznov/pricepaid-importer/internal/bigquery"
	"github.com/dvloznov/pricepaid-importer/internal/landregistry"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
	"github.com/dvloznov/pricepaid-importer/internal/metrics"
	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/sink"
	"github.com/dvloznov/pricepaid-importer/internal/tracker"
)

// Outcome is the result of one period import attempt.
type Outcome string

const (
	OutcomeImported        Outcome = "imported"
	OutcomeAlreadyComplete Outcome = "already_complete"
	OutcomeFailed          Outcome = "failed"
	OutcomeNotAttempted    Outcome = "not_attempted"
)

// PeriodResult describes what happened to one period.
type PeriodResult struct {
	Period   period.Period
	Outcome  Outcome
	Records  int
	Skipped  int
	Stage    Stage
	Err      error
	Duration time.Duration
}

// Deps holds the collaborators of an Importer.
type Deps struct {
	Fetcher landregistry.Fetcher
	Sink    sink.Sink
	Tracker tracker.Tracker

	// Ledger is optional; nil disables run recording.
	Ledger bq.RunLedger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Importer imports a single period end to end.
type Importer struct {
	tracker  tracker.Tracker
	pipeline *Pipeline
	ledger   bq.RunLedger
	metrics  *metrics.Metrics
	encoding string
}

// NewImporter wires the standard period pipeline.
func NewImporter(deps Deps) *Importer {
	ledger := deps.Ledger
	if ledger == nil {
		ledger = bq.NoopLedger{}
	}
	return &Importer{
		tracker:  deps.Tracker,
		pipeline: NewPeriodImportPipeline(deps.Fetcher, deps.Sink, deps.Tracker, deps.Metrics),
		ledger:   ledger,
		metrics:  deps.Metrics,
		encoding: deps.Sink.Encoding(),
	}
}

// ImportPeriod skips p if its marker exists, otherwise runs
// Fetch → Parse → Write → Mark. A failure leaves p pending; nothing is
// rolled back, the next run redoes the whole period.
func (im *Importer) ImportPeriod(ctx context.Context, p period.Period, runID, trigger string) PeriodResult {
	start := time.Now()
	log := logger.FromContext(ctx).With().
		Int("year", p.Year).
		Int("month", int(p.Month)).
		Str("period", p.String()).
		Str("run_id", runID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	result := PeriodResult{Period: p}

	done, err := im.tracker.IsComplete(ctx, p)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("ImportPeriod: check completion: %w", err)
		result.Duration = time.Since(start)
		im.metrics.IncPeriod(metrics.OutcomeFailed)
		log.Error().Err(err).Msg("Completion check failed")
		return result
	}
	if done {
		result.Outcome = OutcomeAlreadyComplete
		result.Duration = time.Since(start)
		im.metrics.IncPeriod(metrics.OutcomeSkipped)
		log.Debug().Msg("Period already complete, skipping")
		return result
	}

	log.Info().Msg("Importing period")

	ledgerRunID, err := im.ledger.StartImportRun(ctx, &bq.ImportRunRow{
		RunID:       uuid.NewString(),
		Period:      p.String(),
		PeriodStart: civilDate(p),
		StartedTS:   start,
		Encoding:    im.encoding,
		Trigger:     trigger,
	})
	if err != nil {
		// The ledger is an audit trail; the import proceeds without it.
		log.Warn().Err(err).Msg("Could not record import run start")
	}

	state := &PipelineState{Period: p, RunID: runID, Encoding: im.encoding}
	err = im.pipeline.Execute(ctx, state)
	result.Duration = time.Since(start)
	if state.Batch != nil {
		result.Skipped = state.Batch.Skipped
	}

	// Ledger updates must land even when the run is being canceled.
	ledgerCtx := context.WithoutCancel(ctx)

	if err != nil {
		result.Outcome = OutcomeFailed
		result.Stage = StageOf(err)
		result.Err = err
		im.metrics.IncPeriod(metrics.OutcomeFailed)
		im.metrics.IncFailure(string(result.Stage))
		if ledgerRunID != "" {
			im.ledger.MarkImportRunFailed(ledgerCtx, ledgerRunID, string(result.Stage), err)
		}
		log.Error().
			Err(err).
			Str("stage", string(result.Stage)).
			Dur("elapsed", result.Duration).
			Msg("Period import failed; period left pending")
		return result
	}

	result.Outcome = OutcomeImported
	result.Records = state.Commit.Records
	im.metrics.IncPeriod(metrics.OutcomeImported)
	im.metrics.AddRecords(result.Records, result.Skipped)

	if ledgerRunID != "" {
		if err := im.ledger.MarkImportRunSucceeded(ledgerCtx, ledgerRunID, bq.RunStats{
			RecordsWritten: int64(result.Records),
			RowsSkipped:    int64(result.Skipped),
			FetchedBytes:   int64(state.FetchedBytes),
		}); err != nil {
			log.Warn().Err(err).Msg("Could not record import run success")
		}
	}

	log.Info().
		Int("records", result.Records).
		Int("skipped", result.Skipped).
		Dur("elapsed", result.Duration).
		Msg("Period imported")
	return result
}

func civilDate(p period.Period) civil.Date {
	return civil.DateOf(p.From())
}
