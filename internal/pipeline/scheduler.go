package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/pricepaid-importer/internal/jobs"
	"github.com/dvloznov/pricepaid-importer/internal/jobs/inmemory"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
	"github.com/dvloznov/pricepaid-importer/internal/metrics"
	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/tracker"
)

// statusConcurrency bounds parallel marker lookups in Status.
const statusConcurrency = 16

// Options tune a Scheduler.
type Options struct {
	StartYear int

	// Workers > 1 fans pending periods out to the in-memory job queue.
	Workers int

	// FailFast stops the run at the first failed period.
	FailFast bool

	// Now is the clock used to bound the period range.
	Now func() time.Time
}

// Scheduler enumerates periods and drives the Importer over them.
type Scheduler struct {
	importer *Importer
	tracker  tracker.Tracker
	jobStore jobs.JobStore
	metrics  *metrics.Metrics
	opts     Options
}

// NewScheduler creates a Scheduler. jobStore may be nil.
func NewScheduler(importer *Importer, t tracker.Tracker, jobStore jobs.JobStore, m *metrics.Metrics, opts Options) *Scheduler {
	if opts.StartYear < period.DataRangeStartYear {
		opts.StartYear = period.DataRangeStartYear
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		importer: importer,
		tracker:  t,
		jobStore: jobStore,
		metrics:  m,
		opts:     opts,
	}
}

// Periods returns every period the scheduler is responsible for, ascending.
func (s *Scheduler) Periods() []period.Period {
	return period.Range(s.opts.StartYear, s.opts.Now())
}

// Run imports every incomplete period. trigger is recorded in the ledger
// (cli, cron, api).
func (s *Scheduler) Run(ctx context.Context, trigger string) (*Summary, error) {
	return s.RunPeriods(ctx, s.Periods(), trigger)
}

// Validate rejects any period that is the current month or later.
func (s *Scheduler) Validate(periods []period.Period) error {
	return period.CheckElapsed(periods, s.opts.Now())
}

// RunPeriods imports the given periods. Period failures are collected in the
// Summary; an error is returned when a period has not elapsed (nothing is
// imported), when FailFast stops the run, or when ctx ends it.
func (s *Scheduler) RunPeriods(ctx context.Context, periods []period.Period, trigger string) (*Summary, error) {
	if err := s.Validate(periods); err != nil {
		return nil, fmt.Errorf("RunPeriods: %w", err)
	}

	runID := uuid.NewString()
	log := logger.FromContext(ctx).With().Str("run_id", runID).Str("trigger", trigger).Logger()
	ctx = logger.WithContext(ctx, log)

	summary := &Summary{RunID: runID, Started: time.Now()}
	s.metrics.RunStarted()
	defer func() { s.metrics.RunFinished(summary.Started) }()

	log.Info().
		Int("periods", len(periods)).
		Int("workers", s.opts.Workers).
		Bool("fail_fast", s.opts.FailFast).
		Msg("Starting import run")

	var (
		results []PeriodResult
		err     error
	)
	if s.opts.Workers > 1 && len(periods) > 1 {
		results, err = s.runParallel(ctx, periods, runID, trigger)
	} else {
		results, err = s.runSequential(ctx, periods, runID, trigger)
	}

	summary.add(results)
	summary.Finished = time.Now()
	summary.Log(log)
	return summary, err
}

func (s *Scheduler) runSequential(ctx context.Context, periods []period.Period, runID, trigger string) ([]PeriodResult, error) {
	results := make([]PeriodResult, 0, len(periods))
	for i, p := range periods {
		if err := ctx.Err(); err != nil {
			return append(results, notAttempted(periods[i:])...), fmt.Errorf("Run: stopped before %s: %w", p, err)
		}

		res := s.importer.ImportPeriod(ctx, p, runID, trigger)
		results = append(results, res)

		if res.Outcome == OutcomeFailed && s.opts.FailFast {
			return append(results, notAttempted(periods[i+1:])...), fmt.Errorf("Run: period %s: %w", p, res.Err)
		}
	}
	return results, nil
}

func (s *Scheduler) runParallel(ctx context.Context, periods []period.Period, runID, trigger string) ([]PeriodResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := inmemory.NewQueue(len(periods), s.opts.Workers, s.jobStore)

	var (
		mu       sync.Mutex
		byPeriod = make(map[period.Period]PeriodResult, len(periods))
		firstErr error
	)

	handler := func(ctx context.Context, job jobs.Job) error {
		j, ok := job.(*jobs.ImportPeriodJob)
		if !ok {
			return fmt.Errorf("runParallel: unexpected job type %s", job.GetType())
		}
		p, err := period.New(j.Year, j.Month)
		if err != nil {
			return err
		}

		res := s.importer.ImportPeriod(ctx, p, runID, trigger)

		mu.Lock()
		byPeriod[p] = res
		if res.Outcome == OutcomeFailed && firstErr == nil {
			firstErr = fmt.Errorf("Run: period %s: %w", p, res.Err)
		}
		mu.Unlock()

		if res.Outcome == OutcomeFailed {
			if s.opts.FailFast {
				cancel()
			}
			return res.Err
		}
		return nil
	}

	for _, p := range periods {
		job := &jobs.ImportPeriodJob{Year: p.Year, Month: int(p.Month), RunID: runID}
		if err := queue.PublishImportPeriod(runCtx, job); err != nil {
			_ = queue.Stop(context.Background())
			return nil, fmt.Errorf("runParallel: publish %s: %w", p, err)
		}
	}
	if err := queue.Start(runCtx, handler); err != nil {
		_ = queue.Stop(context.Background())
		return nil, fmt.Errorf("runParallel: start workers: %w", err)
	}

	drainErr := queue.Drain(runCtx)
	if err := queue.Stop(context.Background()); err != nil {
		return nil, fmt.Errorf("runParallel: stop workers: %w", err)
	}

	results := make([]PeriodResult, 0, len(periods))
	for _, p := range periods {
		if res, ok := byPeriod[p]; ok {
			results = append(results, res)
		} else {
			results = append(results, PeriodResult{Period: p, Outcome: OutcomeNotAttempted})
		}
	}

	switch {
	case s.opts.FailFast && firstErr != nil:
		return results, firstErr
	case ctx.Err() != nil:
		return results, fmt.Errorf("Run: %w", ctx.Err())
	case drainErr != nil && !errors.Is(drainErr, context.Canceled):
		return results, fmt.Errorf("Run: drain queue: %w", drainErr)
	}
	return results, nil
}

func notAttempted(periods []period.Period) []PeriodResult {
	out := make([]PeriodResult, len(periods))
	for i, p := range periods {
		out[i] = PeriodResult{Period: p, Outcome: OutcomeNotAttempted}
	}
	return out
}

// PeriodStatus is the completion state of one period.
type PeriodStatus struct {
	Period period.Period `json:"-"`
	Key    string        `json:"period"`
	State  period.State  `json:"state"`
}

// Status checks every period's marker concurrently.
func (s *Scheduler) Status(ctx context.Context) ([]PeriodStatus, error) {
	periods := s.Periods()
	statuses := make([]PeriodStatus, len(periods))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)
	for i, p := range periods {
		g.Go(func() error {
			done, err := s.tracker.IsComplete(gctx, p)
			if err != nil {
				return fmt.Errorf("Status: %w", err)
			}
			state := period.StatePending
			if done {
				state = period.StateComplete
			}
			statuses[i] = PeriodStatus{Period: p, Key: p.String(), State: state}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}
