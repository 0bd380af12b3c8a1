package bigquery

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/pricepaid-importer/internal/logger"
)

const (
	importRunsTable = "import_runs"

	// maxErrorMessageLen bounds error_message.
	maxErrorMessageLen = 2000
)

// StartImportRunWithClient inserts a new row into <dataset>.import_runs with
// status=RUNNING and returns the run_id. A run_id already set on run is kept.
func StartImportRunWithClient(ctx context.Context, client *bigquery.Client, datasetID string, run *ImportRunRow) (string, error) {
	runID := run.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	started := run.StartedTS
	if started.IsZero() {
		started = time.Now()
	}

	q := client.Query(fmt.Sprintf(`
		INSERT %s.%s (
			run_id,
			period,
			period_start,
			started_ts,
			encoding,
			trigger,
			status
		)
		VALUES (
			@run_id,
			@period,
			@period_start,
			@started_ts,
			@encoding,
			@trigger,
			@status
		)
	`, datasetID, importRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "period", Value: run.Period},
		{Name: "period_start", Value: run.PeriodStart},
		{Name: "started_ts", Value: started},
		{Name: "encoding", Value: run.Encoding},
		{Name: "trigger", Value: run.Trigger},
		{Name: "status", Value: RunStatusRunning},
	}

	if err := runAndWait(ctx, q); err != nil {
		return "", fmt.Errorf("StartImportRun: %w", err)
	}
	return runID, nil
}

// MarkImportRunFailedWithClient sets status=FAILED, finished_ts, failed_stage
// and error_message. Errors are logged; the import outcome is already decided.
func MarkImportRunFailedWithClient(ctx context.Context, client *bigquery.Client, datasetID, runID, stage string, runErr error) {
	log := logger.FromContext(ctx)

	q := client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    failed_stage = @failed_stage,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, datasetID, importRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "failed_stage", Value: stage},
		{Name: "error_message", Value: truncateError(runErr)},
		{Name: "run_id", Value: runID},
	}

	if err := runAndWait(ctx, q); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkImportRunFailed: update failed")
	}
}

// MarkImportRunSucceededWithClient sets status=SUCCESS, finished_ts and the
// counters, and clears error_message.
func MarkImportRunSucceededWithClient(ctx context.Context, client *bigquery.Client, datasetID, runID string, stats RunStats) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = "",
		    records_written = @records_written,
		    rows_skipped = @rows_skipped,
		    fetched_bytes = @fetched_bytes
		WHERE run_id = @run_id
	`, datasetID, importRunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "records_written", Value: stats.RecordsWritten},
		{Name: "rows_skipped", Value: stats.RowsSkipped},
		{Name: "fetched_bytes", Value: stats.FetchedBytes},
		{Name: "run_id", Value: runID},
	}

	if err := runAndWait(ctx, q); err != nil {
		return fmt.Errorf("MarkImportRunSucceeded: %w", err)
	}
	return nil
}

// ListRecentImportRunsWithClient returns up to limit runs, newest first.
func ListRecentImportRunsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, limit int) ([]*ImportRunRow, error) {
	if limit <= 0 {
		limit = 50
	}

	q := client.Query(fmt.Sprintf(`
		SELECT
			run_id,
			period,
			period_start,
			started_ts,
			finished_ts,
			encoding,
			trigger,
			status,
			failed_stage,
			error_message,
			records_written,
			rows_skipped,
			fetched_bytes
		FROM `+"`%s.%s.%s`"+`
		ORDER BY started_ts DESC
		LIMIT @limit
	`, projectID, datasetID, importRunsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecentImportRuns: reading query: %w", err)
	}

	var runs []*ImportRunRow
	for {
		var row ImportRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecentImportRuns: iterating: %w", err)
		}
		runs = append(runs, &row)
	}
	return runs, nil
}

func runAndWait(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	// Cut on a rune boundary so the column stays valid UTF-8.
	cut := maxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
