package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/pricepaid-importer/internal/landregistry"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
	"github.com/dvloznov/pricepaid-importer/internal/metrics"
	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/pricepaid"
	"github.com/dvloznov/pricepaid-importer/internal/sink"
	"github.com/dvloznov/pricepaid-importer/internal/tracker"
)

// Stage names a step of the period import, used in logs, metrics and the ledger.
type Stage string

const (
	StageFetch Stage = "fetch"
	StageParse Stage = "parse"
	StageWrite Stage = "write"
	StageMark  Stage = "mark"
)

// PipelineStep represents a single step in the period import pipeline.
type PipelineStep interface {
	Stage() Stage
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Period   period.Period
	RunID    string
	Encoding string

	Payload      []byte
	FetchedBytes int
	Batch        *pricepaid.Batch
	Commit       *sink.Commit
}

// StepError records which stage failed.
type StepError struct {
	Stage Stage
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StageOf returns the failed stage recorded in err, or "" if none.
func StageOf(err error) Stage {
	var se *StepError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Step 1: FetchStep downloads the period's raw CSV.
type FetchStep struct {
	Fetcher landregistry.Fetcher
	Metrics *metrics.Metrics
}

func (s *FetchStep) Stage() Stage { return StageFetch }

func (s *FetchStep) Execute(ctx context.Context, state *PipelineState) error {
	payload, err := s.Fetcher.Fetch(ctx, state.Period)
	if err != nil {
		return err
	}
	state.Payload = payload
	state.FetchedBytes = len(payload)
	s.Metrics.AddFetchedBytes(len(payload))
	return nil
}

// Step 2: ParseStep maps the payload into records, skipping malformed rows.
type ParseStep struct{}

func (s *ParseStep) Stage() Stage { return StageParse }

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	batch, err := pricepaid.Parse(state.Payload)
	if err != nil {
		return err
	}
	state.Batch = batch
	// The raw payload is no longer needed once mapped.
	state.Payload = nil

	if batch.Skipped > 0 {
		log := logger.FromContext(ctx)
		ev := log.Warn().
			Str("period", state.Period.String()).
			Int("skipped", batch.Skipped).
			Int("records", len(batch.Records))
		if len(batch.Errors) > 0 {
			ev = ev.AnErr("first_error", batch.Errors[0])
		}
		ev.Msg("Skipped malformed rows")
	}
	return nil
}

// Step 3: WriteStep commits the records through the configured sink.
type WriteStep struct {
	Sink sink.Sink
}

func (s *WriteStep) Stage() Stage { return StageWrite }

func (s *WriteStep) Execute(ctx context.Context, state *PipelineState) error {
	commit, err := s.Sink.Write(ctx, state.Period, state.Batch.Records)
	if err != nil {
		return err
	}
	state.Commit = commit
	return nil
}

// Step 4: MarkCompleteStep writes the completion marker. It refuses to run
// without a commit from WriteStep.
type MarkCompleteStep struct {
	Tracker tracker.Tracker
}

func (s *MarkCompleteStep) Stage() Stage { return StageMark }

func (s *MarkCompleteStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Commit == nil {
		return fmt.Errorf("MarkCompleteStep: no committed write for %s", state.Period)
	}
	return s.Tracker.MarkComplete(ctx, state.Period, tracker.Marker{
		Records:     state.Commit.Records,
		Skipped:     state.Batch.Skipped,
		Encoding:    state.Encoding,
		RunID:       state.RunID,
		CompletedAt: time.Now().UTC(),
	})
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps   []PipelineStep
	metrics *metrics.Metrics
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(m *metrics.Metrics, steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps, metrics: m}
}

// Execute runs all steps in the pipeline sequentially and stops at the first
// failure, which is returned as a *StepError.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Stage: step.Stage(), Err: err}
		}
		start := time.Now()
		err := step.Execute(ctx, state)
		p.metrics.ObserveStage(string(step.Stage()), start)
		if err != nil {
			return &StepError{Stage: step.Stage(), Err: err}
		}
	}
	return nil
}

// NewPeriodImportPipeline creates the standard Fetch → Parse → Write → Mark pipeline.
func NewPeriodImportPipeline(f landregistry.Fetcher, s sink.Sink, t tracker.Tracker, m *metrics.Metrics) *Pipeline {
	return NewPipeline(m,
		&FetchStep{Fetcher: f, Metrics: m},
		&ParseStep{},
		&WriteStep{Sink: s},
		&MarkCompleteStep{Tracker: t},
	)
}
