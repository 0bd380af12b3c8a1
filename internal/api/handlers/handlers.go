package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/pricepaid-importer/internal/api/middleware"
	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/jobs"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/pipeline"
	"github.com/dvloznov/pricepaid-importer/internal/tracker"
)

// Scheduler is the part of pipeline.Scheduler the handlers use.
type Scheduler interface {
	Run(ctx context.Context, trigger string) (*pipeline.Summary, error)
	RunPeriods(ctx context.Context, periods []period.Period, trigger string) (*pipeline.Summary, error)
	Status(ctx context.Context) ([]pipeline.PeriodStatus, error)
	Validate(periods []period.Period) error
}

// Runner serializes import runs so that cron and API triggers never overlap.
type Runner struct {
	scheduler Scheduler
	log       zerolog.Logger

	mu      sync.Mutex
	running bool
	last    *pipeline.Summary
	lastErr error
	done    chan struct{}
}

// NewRunner creates a Runner around s.
func NewRunner(s Scheduler, log zerolog.Logger) *Runner {
	return &Runner{scheduler: s, log: log}
}

func (r *Runner) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return apperrors.ErrImportInProgress
	}
	r.running = true
	r.done = make(chan struct{})
	return nil
}

func (r *Runner) release(summary *pipeline.Summary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	if summary != nil {
		r.last = summary
	}
	r.lastErr = err
	close(r.done)
}

// Run performs a run synchronously. periods may be empty to import every
// pending period.
func (r *Runner) Run(ctx context.Context, trigger string, periods []period.Period) (*pipeline.Summary, error) {
	if err := r.scheduler.Validate(periods); err != nil {
		return nil, err
	}
	if err := r.acquire(); err != nil {
		return nil, err
	}
	ctx = logger.WithContext(ctx, r.log)

	var (
		summary *pipeline.Summary
		err     error
	)
	if len(periods) == 0 {
		summary, err = r.scheduler.Run(ctx, trigger)
	} else {
		summary, err = r.scheduler.RunPeriods(ctx, periods, trigger)
	}
	r.release(summary, err)
	return summary, err
}

// Start begins a run in the background. The run outlives the request that
// triggered it but still stops when base is canceled. Periods that have not
// elapsed are rejected before the run starts.
func (r *Runner) Start(base context.Context, trigger string, periods []period.Period) error {
	if err := r.scheduler.Validate(periods); err != nil {
		return err
	}
	if err := r.acquire(); err != nil {
		return err
	}
	go func() {
		ctx := logger.WithContext(base, r.log)
		var (
			summary *pipeline.Summary
			err     error
		)
		if len(periods) == 0 {
			summary, err = r.scheduler.Run(ctx, trigger)
		} else {
			summary, err = r.scheduler.RunPeriods(ctx, periods, trigger)
		}
		if err != nil {
			r.log.Error().Err(err).Str("trigger", trigger).Msg("Import run stopped")
		}
		r.release(summary, err)
	}()
	return nil
}

// Wait blocks until the current run, if any, finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunState is a snapshot of the Runner.
type RunState struct {
	Running bool
	Last    *pipeline.Summary
	Err     error
}

// State returns the most recent summary and whether a run is in progress.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunState{Running: r.running, Last: r.last, Err: r.lastErr}
}

// ImportsHandler handles import run endpoints.
type ImportsHandler struct {
	runner *Runner
	base   context.Context
	log    zerolog.Logger
}

// NewImportsHandler creates a new imports handler. Runs started through it
// are bound to base rather than to the request.
func NewImportsHandler(base context.Context, runner *Runner, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{runner: runner, base: base, log: log}
}

type startImportRequest struct {
	Periods []string `json:"periods"`
}

// StartImport handles POST /api/imports
func (h *ImportsHandler) StartImport(w http.ResponseWriter, r *http.Request) {
	var req startImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	periods := make([]period.Period, 0, len(req.Periods))
	for _, s := range req.Periods {
		p, err := period.Parse(s)
		if err != nil {
			middleware.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		periods = append(periods, p)
	}

	if err := h.runner.Start(h.base, "api", periods); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrPeriodNotElapsed):
			middleware.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, apperrors.ErrImportInProgress):
			middleware.WriteError(w, r, http.StatusConflict, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to start import")
		middleware.WriteError(w, r, http.StatusInternalServerError, "Failed to start import")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "started",
		"periods": len(periods),
	})
}

// LastImport handles GET /api/imports/last
func (h *ImportsHandler) LastImport(w http.ResponseWriter, r *http.Request) {
	state := h.runner.State()
	resp := map[string]interface{}{
		"running": state.Running,
		"summary": state.Last,
	}
	if state.Err != nil {
		resp["error"] = state.Err.Error()
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// PeriodsHandler handles period status endpoints.
type PeriodsHandler struct {
	scheduler Scheduler
	tracker   tracker.Tracker
	log       zerolog.Logger
}

// NewPeriodsHandler creates a new periods handler.
func NewPeriodsHandler(s Scheduler, t tracker.Tracker, log zerolog.Logger) *PeriodsHandler {
	return &PeriodsHandler{scheduler: s, tracker: t, log: log}
}

// ListPeriods handles GET /api/periods
func (h *PeriodsHandler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.scheduler.Status(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to check period status")
		middleware.WriteError(w, r, http.StatusInternalServerError, "Failed to check period status")
		return
	}

	if state := r.URL.Query().Get("state"); state != "" {
		filtered := statuses[:0]
		for _, s := range statuses {
			if string(s.State) == state {
				filtered = append(filtered, s)
			}
		}
		statuses = filtered
	}

	complete := 0
	for _, s := range statuses {
		if s.State == period.StateComplete {
			complete++
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"periods":  statuses,
		"count":    len(statuses),
		"complete": complete,
	})
}

// GetPeriod handles GET /api/periods/{period}
func (h *PeriodsHandler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := period.Parse(chi.URLParam(r, "period"))
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	marker, err := h.tracker.Marker(r.Context(), p)
	if err != nil {
		h.log.Error().Err(err).Str("period", p.String()).Msg("Failed to read marker")
		middleware.WriteError(w, r, http.StatusInternalServerError, "Failed to read marker")
		return
	}
	if marker == nil {
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"period": p.String(),
			"state":  period.StatePending,
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"period": p.String(),
		"state":  period.StateComplete,
		"marker": marker,
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.log.Debug().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, r, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		RunID:  query.Get("run_id"),
		Period: query.Get("period"),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, r, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// Health handles GET /healthz
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
