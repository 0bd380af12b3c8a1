// Package sink persists mapped Price Paid records under period-scoped keys.
package sink

import (
	"context"
	"fmt"

	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/pricepaid"
	"github.com/dvloznov/pricepaid-importer/internal/storage"
)

// Encodings.
const (
	EncodingJSON    = "json"
	EncodingParquet = "parquet"
)

// Artifact names inside a period partition.
const (
	SummaryArtifact = "finished.txt"
	BatchArtifact   = "data.parquet"
)

// Sink writes and reads back the records of one period.
type Sink interface {
	// Write stores records for p. A nil error means every object is durably
	// stored; any failure is a *apperrors.WriteFailure.
	Write(ctx context.Context, p period.Period, records []pricepaid.Record) (*Commit, error)

	// Read returns the committed records for p.
	Read(ctx context.Context, p period.Period) ([]pricepaid.Record, error)

	Encoding() string
}

// Commit summarises a successful write.
type Commit struct {
	Period  period.Period
	Records int
	Objects int
	Bytes   int64
}

// New returns the sink for encoding, rooted at prefix in store.
func New(encoding string, store storage.ObjectStore, prefix string) (Sink, error) {
	switch encoding {
	case EncodingJSON, "":
		return NewJSONSink(store, prefix), nil
	case EncodingParquet:
		return NewParquetSink(store, prefix), nil
	default:
		return nil, fmt.Errorf("New: unknown encoding %q", encoding)
	}
}
