package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/pricepaid-importer/internal/api/handlers"
	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/jobs"
	jobsmem "github.com/dvloznov/pricepaid-importer/internal/jobs/inmemory"
	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/pipeline"
	"github.com/dvloznov/pricepaid-importer/internal/storage/inmemory"
	"github.com/dvloznov/pricepaid-importer/internal/tracker"
)

// fakeScheduler blocks each run until release is closed.
type fakeScheduler struct {
	mu      sync.Mutex
	calls   int
	periods []period.Period
	release chan struct{}
	status  []pipeline.PeriodStatus
}

func (f *fakeScheduler) Run(ctx context.Context, trigger string) (*pipeline.Summary, error) {
	return f.RunPeriods(ctx, nil, trigger)
}

func (f *fakeScheduler) RunPeriods(ctx context.Context, periods []period.Period, trigger string) (*pipeline.Summary, error) {
	f.mu.Lock()
	f.calls++
	f.periods = periods
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	return &pipeline.Summary{RunID: "run-1", Considered: len(periods)}, nil
}

func (f *fakeScheduler) Status(context.Context) ([]pipeline.PeriodStatus, error) {
	return f.status, nil
}

// Validate treats July 2020 as the current month.
func (f *fakeScheduler) Validate(periods []period.Period) error {
	return period.CheckElapsed(periods, time.Date(2020, time.July, 15, 0, 0, 0, 0, time.UTC))
}

type testServer struct {
	handler   http.Handler
	scheduler *fakeScheduler
	runner    *handlers.Runner
	tracker   *tracker.MarkerTracker
	jobs      *jobsmem.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zerolog.Nop()
	sched := &fakeScheduler{}
	runner := handlers.NewRunner(sched, log)
	tr := tracker.New(inmemory.NewStore("test"), "house_prices")
	js := jobsmem.NewStore()

	h := NewRouter(Handlers{
		Imports: handlers.NewImportsHandler(context.Background(), runner, log),
		Periods: handlers.NewPeriodsHandler(sched, tr, log),
		Jobs:    handlers.NewJobsHandler(js, log),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	}, log)
	return &testServer{handler: h, scheduler: sched, runner: runner, tracker: tr, jobs: js}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = s.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestStartImport(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/imports", `{"periods":["2020-05","2020-06"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, s.runner.Wait(context.Background()))

	s.scheduler.mu.Lock()
	defer s.scheduler.mu.Unlock()
	assert.Equal(t, 1, s.scheduler.calls)
	assert.Equal(t, []period.Period{{Year: 2020, Month: time.May}, {Year: 2020, Month: time.June}}, s.scheduler.periods)

	state := s.runner.State()
	assert.False(t, state.Running)
	require.NotNil(t, state.Last)
	assert.Equal(t, "run-1", state.Last.RunID)
}

func TestStartImport_EmptyBodyImportsAll(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/imports", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, s.runner.Wait(context.Background()))
	assert.Nil(t, s.scheduler.periods)
}

func TestStartImport_RejectsOverlap(t *testing.T) {
	s := newTestServer(t)
	s.scheduler.release = make(chan struct{})

	rec := s.do(http.MethodPost, "/api/imports", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.do(http.MethodPost, "/api/imports", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err := s.runner.Run(context.Background(), "cron", nil)
	assert.ErrorIs(t, err, apperrors.ErrImportInProgress)

	rec = s.do(http.MethodGet, "/api/imports/last", "")
	assert.Equal(t, true, decode(t, rec)["running"])

	close(s.scheduler.release)
	require.NoError(t, s.runner.Wait(context.Background()))
	assert.Equal(t, 1, s.scheduler.calls)
}

func TestStartImport_BadInput(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/imports", `{"periods":["June"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/imports", `{"periods":["1990-01"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/imports", `not json`).Code)
	assert.Equal(t, 0, s.scheduler.calls)
}

func TestStartImport_RejectsPeriodsNotElapsed(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"periods":["2020-07"]}`,
		`{"periods":["2020-06","2099-01"]}`,
	} {
		rec := s.do(http.MethodPost, "/api/imports", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, decode(t, rec)["error"], "has not elapsed")
	}
	assert.False(t, s.runner.State().Running)

	_, err := s.runner.Run(context.Background(), "cron", []period.Period{{Year: 2020, Month: time.August}})
	assert.ErrorIs(t, err, apperrors.ErrPeriodNotElapsed)

	s.scheduler.mu.Lock()
	defer s.scheduler.mu.Unlock()
	assert.Equal(t, 0, s.scheduler.calls)
}

func TestListPeriods(t *testing.T) {
	s := newTestServer(t)
	s.scheduler.status = []pipeline.PeriodStatus{
		{Period: period.Period{Year: 2020, Month: time.May}, Key: "2020-05", State: period.StateComplete},
		{Period: period.Period{Year: 2020, Month: time.June}, Key: "2020-06", State: period.StatePending},
	}

	body := decode(t, s.do(http.MethodGet, "/api/periods", ""))
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["complete"])

	body = decode(t, s.do(http.MethodGet, "/api/periods?state=pending", ""))
	assert.EqualValues(t, 1, body["count"])
	assert.EqualValues(t, 0, body["complete"])
}

func TestGetPeriod(t *testing.T) {
	s := newTestServer(t)
	june := period.Period{Year: 2020, Month: time.June}
	require.NoError(t, s.tracker.MarkComplete(context.Background(), june, tracker.Marker{Records: 3, Encoding: "json"}))

	body := decode(t, s.do(http.MethodGet, "/api/periods/2020-06", ""))
	assert.Equal(t, "complete", body["state"])
	marker, ok := body["marker"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 3, marker["records"])

	body = decode(t, s.do(http.MethodGet, "/api/periods/2020-07", ""))
	assert.Equal(t, "pending", body["state"])

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/periods/bogus", "").Code)
}

func TestJobsEndpoints(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.jobs.SaveJob(ctx, &jobs.ImportPeriodJob{JobID: "j1", Year: 2020, Month: 6, RunID: "r1", Status: jobs.JobStatusCompleted}))
	require.NoError(t, s.jobs.SaveJob(ctx, &jobs.ImportPeriodJob{JobID: "j2", Year: 2020, Month: 7, RunID: "r2", Status: jobs.JobStatusFailed}))

	body := decode(t, s.do(http.MethodGet, "/api/jobs", ""))
	assert.EqualValues(t, 2, body["count"])

	body = decode(t, s.do(http.MethodGet, "/api/jobs?run_id=r2", ""))
	assert.EqualValues(t, 1, body["count"])

	rec := s.do(http.MethodGet, "/api/jobs/j1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodDelete, "/api/periods", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), decode(t, rec)["request_id"])
}
