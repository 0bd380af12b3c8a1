package bigquery

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// Import run statuses.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// RunLedger records the lifecycle of each period import. The ledger is an
// audit trail only; completion is decided by the storage marker.
type RunLedger interface {
	// StartImportRun inserts a new import run with status=RUNNING and returns the run_id.
	StartImportRun(ctx context.Context, run *ImportRunRow) (string, error)

	// MarkImportRunSucceeded sets status=SUCCESS, finished_ts and the counters.
	MarkImportRunSucceeded(ctx context.Context, runID string, stats RunStats) error

	// MarkImportRunFailed sets status=FAILED, finished_ts, stage and error_message.
	// Failures to record are logged, not returned.
	MarkImportRunFailed(ctx context.Context, runID, stage string, runErr error)

	// ListRecentImportRuns returns the newest runs first.
	ListRecentImportRuns(ctx context.Context, limit int) ([]*ImportRunRow, error)
}

// RunStats are the counters of a finished import run.
type RunStats struct {
	RecordsWritten int64
	RowsSkipped    int64
	FetchedBytes   int64
}

// ImportRunRow represents an import run record in BigQuery.
type ImportRunRow struct {
	RunID string `bigquery:"run_id"` // REQUIRED

	// Period is "YYYY-MM"; PeriodStart the first day of that month.
	Period      string     `bigquery:"period"`       // REQUIRED
	PeriodStart civil.Date `bigquery:"period_start"` // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Encoding string `bigquery:"encoding"` // NULLABLE
	Trigger  string `bigquery:"trigger"`  // NULLABLE: cli, cron, api

	Status       string              `bigquery:"status"`        // NULLABLE
	FailedStage  bigquery.NullString `bigquery:"failed_stage"`  // NULLABLE
	ErrorMessage string              `bigquery:"error_message"` // NULLABLE

	RecordsWritten bigquery.NullInt64 `bigquery:"records_written"` // NULLABLE
	RowsSkipped    bigquery.NullInt64 `bigquery:"rows_skipped"`    // NULLABLE
	FetchedBytes   bigquery.NullInt64 `bigquery:"fetched_bytes"`   // NULLABLE
}

// NoopLedger discards every call. It is used when no BigQuery project is configured.
type NoopLedger struct{}

func (NoopLedger) StartImportRun(ctx context.Context, run *ImportRunRow) (string, error) {
	return run.RunID, nil
}

func (NoopLedger) MarkImportRunSucceeded(ctx context.Context, runID string, stats RunStats) error {
	return nil
}

func (NoopLedger) MarkImportRunFailed(ctx context.Context, runID, stage string, runErr error) {}

func (NoopLedger) ListRecentImportRuns(ctx context.Context, limit int) ([]*ImportRunRow, error) {
	return nil, nil
}

var _ RunLedger = NoopLedger{}
