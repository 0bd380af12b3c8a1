package landregistry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/period"
	"github.com/dvloznov/pricepaid-importer/internal/testutil"
)

func testClient(url string, retries int) *Client {
	return NewClient(&ClientConfig{
		BaseURL:      url,
		Timeout:      5 * time.Second,
		MaxRetries:   retries,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
		RateLimit:    1000,
		RateBurst:    10,
	})
}

func TestQuery_PeriodWindow(t *testing.T) {
	tests := []struct {
		name    string
		year    int
		month   int
		minDate string
		maxDate string
	}{
		{"june", 2020, 6, "01 June 2020", "30 June 2020"},
		{"leap february", 2020, 2, "01 February 2020", "29 February 2020"},
		{"common february", 2019, 2, "01 February 2019", "28 February 2019"},
		{"december", 1995, 12, "01 December 1995", "31 December 1995"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := period.New(tt.year, tt.month)
			require.NoError(t, err)

			q := Query(p)
			assert.Equal(t, tt.minDate, q.Get("min_date"))
			assert.Equal(t, tt.maxDate, q.Get("max_date"))
		})
	}
}

func TestQuery_AllCategories(t *testing.T) {
	p, _ := period.New(2020, 6)
	q := Query(p)

	assert.Equal(t, []string{"lrcommon:freehold", "lrcommon:leasehold"}, q["et[]"])
	assert.Equal(t, []string{"true", "false"}, q["nb[]"])
	assert.Len(t, q["ptype[]"], 5)
	assert.Len(t, q["tc[]"], 2)
	assert.Equal(t, "true", q.Get("header"))
	assert.Equal(t, "all", q.Get("limit"))
}

func TestFetch_Success(t *testing.T) {
	payload := testutil.Payload(testutil.Row("{A1}", "100000"))

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "text/csv", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	p, _ := period.New(2020, 6)
	body, err := testClient(srv.URL, 0).Fetch(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(body))
	assert.Contains(t, gotQuery, "min_date=01+June+2020")
	assert.Contains(t, gotQuery, "max_date=30+June+2020")
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(testutil.Header))
	}))
	defer srv.Close()

	p, _ := period.New(2020, 6)
	body, err := testClient(srv.URL, 3).Fetch(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, testutil.Header, string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such dataset", http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := period.New(2020, 6)
	_, err := testClient(srv.URL, 2).Fetch(context.Background(), p)
	require.Error(t, err)

	var ff *apperrors.FetchFailure
	require.True(t, errors.As(err, &ff))
	assert.Equal(t, http.StatusNotFound, ff.StatusCode)
	assert.Equal(t, p.From(), ff.From)
	assert.Equal(t, p.To(), ff.To)
	assert.True(t, apperrors.IsFetchFailure(err))
}

func TestFetch_ExhaustedRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := period.New(2020, 6)
	_, err := testClient(srv.URL, 2).Fetch(context.Background(), p)

	var ff *apperrors.FetchFailure
	require.True(t, errors.As(err, &ff))
	assert.Equal(t, http.StatusBadGateway, ff.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, _ := period.New(2020, 6)
	_, err := testClient(url, 0).Fetch(context.Background(), p)

	var ff *apperrors.FetchFailure
	require.True(t, errors.As(err, &ff))
	assert.Zero(t, ff.StatusCode)
}

func TestFetch_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := period.New(2020, 6)
	_, err := testClient(srv.URL, 0).Fetch(ctx, p)
	assert.True(t, apperrors.IsFetchFailure(err))
}
