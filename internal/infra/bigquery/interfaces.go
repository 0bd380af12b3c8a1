package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	bq "github.com/dvloznov/pricepaid-importer/internal/bigquery"
)

// Re-export shared types so callers need a single import.
type (
	RunLedger    = bq.RunLedger
	RunStats     = bq.RunStats
	ImportRunRow = bq.ImportRunRow
)

const (
	RunStatusRunning = bq.RunStatusRunning
	RunStatusSuccess = bq.RunStatusSuccess
	RunStatusFailed  = bq.RunStatusFailed
)

// BigQueryRunLedger is the concrete implementation of RunLedger that writes
// to <dataset>.import_runs. It holds a shared BigQuery client.
type BigQueryRunLedger struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewBigQueryRunLedger creates a new instance of BigQueryRunLedger with a
// shared BigQuery client.
func NewBigQueryRunLedger(ctx context.Context, projectID, datasetID string) (*BigQueryRunLedger, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRunLedger: creating client: %w", err)
	}
	return &BigQueryRunLedger{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryRunLedger) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// StartImportRun delegates to StartImportRunWithClient with the shared client.
func (r *BigQueryRunLedger) StartImportRun(ctx context.Context, run *ImportRunRow) (string, error) {
	return StartImportRunWithClient(ctx, r.client, r.datasetID, run)
}

// MarkImportRunSucceeded delegates to MarkImportRunSucceededWithClient with the shared client.
func (r *BigQueryRunLedger) MarkImportRunSucceeded(ctx context.Context, runID string, stats RunStats) error {
	return MarkImportRunSucceededWithClient(ctx, r.client, r.datasetID, runID, stats)
}

// MarkImportRunFailed delegates to MarkImportRunFailedWithClient with the shared client.
func (r *BigQueryRunLedger) MarkImportRunFailed(ctx context.Context, runID, stage string, runErr error) {
	MarkImportRunFailedWithClient(ctx, r.client, r.datasetID, runID, stage, runErr)
}

// ListRecentImportRuns delegates to ListRecentImportRunsWithClient with the shared client.
func (r *BigQueryRunLedger) ListRecentImportRuns(ctx context.Context, limit int) ([]*ImportRunRow, error) {
	return ListRecentImportRunsWithClient(ctx, r.client, r.projectID, r.datasetID, limit)
}

var _ RunLedger = (*BigQueryRunLedger)(nil)
