package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.IncPeriod(OutcomeImported)
	m.IncPeriod(OutcomeImported)
	m.IncPeriod(OutcomeSkipped)
	m.IncFailure("fetch")
	m.AddRecords(10, 2)
	m.AddFetchedBytes(512)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Periods.WithLabelValues(OutcomeImported)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Periods.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("fetch")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.RecordsWritten))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RowsSkipped))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.FetchedBytes))
}

func TestMetrics_RunLifecycle(t *testing.T) {
	m := New()

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunInProgress))

	m.RunFinished(time.Now().Add(-time.Second))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunInProgress))
	assert.Positive(t, testutil.ToFloat64(m.LastRunUnix))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.IncPeriod(OutcomeFailed)
	m.IncFailure("write")
	m.AddRecords(1, 1)
	m.ObserveStage("fetch", time.Now())
	m.RunStarted()
	m.RunFinished(time.Now())
	assert.NoError(t, m.Push(context.Background(), "http://unused", "job"))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncPeriod(OutcomeImported)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pricepaid_import_periods_total{outcome="imported"} 1`)
}

func TestMetrics_Push(t *testing.T) {
	var gotPath string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	m := New()
	m.IncPeriod(OutcomeImported)

	require.NoError(t, m.Push(context.Background(), gateway.URL, "pricepaid_import"))
	assert.True(t, strings.HasSuffix(gotPath, "/job/pricepaid_import"), gotPath)
}
