package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/pricepaid"
	"github.com/dvloznov/pricepaid-importer/internal/storage"
)

// JSONSink writes one JSON document per record, keyed by record id, followed
// by a finished.txt summary.
type JSONSink struct {
	store  storage.ObjectStore
	prefix string
}

// NewJSONSink creates a JSONSink.
func NewJSONSink(store storage.ObjectStore, prefix string) *JSONSink {
	return &JSONSink{store: store, prefix: prefix}
}

func (s *JSONSink) Encoding() string {
	return EncodingJSON
}

// Write implements Sink.
func (s *JSONSink) Write(ctx context.Context, p period.Period, records []pricepaid.Record) (*Commit, error) {
	log := logger.FromContext(ctx)
	commit := &Commit{Period: p}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, &apperrors.WriteFailure{Key: p.KeyPrefix(s.prefix), Err: err}
		}

		key := p.Key(s.prefix, records[i].ID+".json")
		body, err := json.Marshal(&records[i])
		if err != nil {
			return nil, &apperrors.WriteFailure{Key: key, Err: fmt.Errorf("marshal record: %w", err)}
		}
		if err := s.store.Put(ctx, key, body, storage.ContentTypeJSON); err != nil {
			return nil, &apperrors.WriteFailure{Key: key, Err: err}
		}
		commit.Records++
		commit.Objects++
		commit.Bytes += int64(len(body))
	}

	summary := []byte(fmt.Sprintf("Loaded Records: %d", len(records)))
	summaryKey := p.Key(s.prefix, SummaryArtifact)
	if err := s.store.Put(ctx, summaryKey, summary, storage.ContentTypeText); err != nil {
		return nil, &apperrors.WriteFailure{Key: summaryKey, Err: err}
	}
	commit.Objects++
	commit.Bytes += int64(len(summary))

	log.Debug().
		Str("period", p.String()).
		Int("records", commit.Records).
		Int64("bytes", commit.Bytes).
		Msg("Wrote JSON records")
	return commit, nil
}

// Read implements Sink. Records come back in key order.
func (s *JSONSink) Read(ctx context.Context, p period.Period) ([]pricepaid.Record, error) {
	keys, err := s.store.List(ctx, p.KeyPrefix(s.prefix)+"/")
	if err != nil {
		return nil, fmt.Errorf("Read: list %s: %w", p, err)
	}

	var records []pricepaid.Record
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		body, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("Read: get %s: %w", key, err)
		}
		var rec pricepaid.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("Read: decode %s: %w", key, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

var _ Sink = (*JSONSink)(nil)
