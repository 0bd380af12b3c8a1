// Package tracker records which periods have been durably imported.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/storage"
)

// Marker is the body of the completion marker object.
type Marker struct {
	Period      string    `json:"period"`
	Records     int       `json:"records"`
	Skipped     int       `json:"skipped"`
	Encoding    string    `json:"encoding"`
	RunID       string    `json:"run_id,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Tracker answers whether a period is complete and marks it so.
type Tracker interface {
	IsComplete(ctx context.Context, p period.Period) (bool, error)
	MarkComplete(ctx context.Context, p period.Period, m Marker) error
	Marker(ctx context.Context, p period.Period) (*Marker, error)
}

// MarkerTracker keeps completion state as a _SUCCESS object next to the
// period's data. Presence of the object is the only signal read.
type MarkerTracker struct {
	store  storage.ObjectStore
	prefix string
}

// New creates a MarkerTracker rooted at prefix.
func New(store storage.ObjectStore, prefix string) *MarkerTracker {
	return &MarkerTracker{store: store, prefix: prefix}
}

// IsComplete reports whether the marker for p exists.
func (t *MarkerTracker) IsComplete(ctx context.Context, p period.Period) (bool, error) {
	ok, err := t.store.Exists(ctx, p.MarkerKey(t.prefix))
	if err != nil {
		return false, fmt.Errorf("IsComplete: check marker for %s: %w", p, err)
	}
	return ok, nil
}

// MarkComplete writes the marker for p. Callers invoke it only after the
// period's data is committed.
func (t *MarkerTracker) MarkComplete(ctx context.Context, p period.Period, m Marker) error {
	m.Period = p.String()
	if m.CompletedAt.IsZero() {
		m.CompletedAt = time.Now().UTC()
	}

	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("MarkComplete: marshal marker: %w", err)
	}

	key := p.MarkerKey(t.prefix)
	if err := t.store.Put(ctx, key, body, storage.ContentTypeJSON); err != nil {
		return &apperrors.WriteFailure{Key: key, Err: err}
	}
	return nil
}

// Marker reads the marker body for p. A missing marker yields (nil, nil).
// Markers written by older importers may have an empty body; those decode
// to a Marker with only Period set.
func (t *MarkerTracker) Marker(ctx context.Context, p period.Period) (*Marker, error) {
	body, err := t.store.Get(ctx, p.MarkerKey(t.prefix))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Marker: get marker for %s: %w", p, err)
	}

	m := &Marker{Period: p.String()}
	if len(body) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(body, m); err != nil {
		return nil, fmt.Errorf("Marker: decode marker for %s: %w", p, err)
	}
	return m, nil
}

var _ Tracker = (*MarkerTracker)(nil)
