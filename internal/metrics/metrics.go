// Package metrics exposes import progress as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Period outcomes.
const (
	OutcomeImported = "imported"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Metrics provides observability for the importer. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Period outcomes: imported, skipped (already complete), failed
	Periods *prometheus.CounterVec

	// Failures by stage: fetch, parse, write, mark
	Failures *prometheus.CounterVec

	RecordsWritten prometheus.Counter
	RowsSkipped    prometheus.Counter
	FetchedBytes   prometheus.Counter

	// Per-stage latency
	StageDuration *prometheus.HistogramVec

	RunDuration   prometheus.Histogram
	LastRunUnix   prometheus.Gauge
	RunInProgress prometheus.Gauge
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Periods: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricepaid_import_periods_total",
			Help: "Periods processed by outcome",
		}, []string{"outcome"}),

		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricepaid_import_failures_total",
			Help: "Period failures by pipeline stage",
		}, []string{"stage"}),

		RecordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricepaid_import_records_written_total",
			Help: "Records committed to the output store",
		}),

		RowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricepaid_import_rows_skipped_total",
			Help: "Malformed source rows skipped",
		}),

		FetchedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricepaid_import_fetched_bytes_total",
			Help: "Bytes downloaded from the source",
		}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricepaid_import_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~163s
		}, []string{"stage"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricepaid_import_run_duration_seconds",
			Help:    "Duration of a full import run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		}),

		LastRunUnix: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pricepaid_import_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),

		RunInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pricepaid_import_run_in_progress",
			Help: "1 while a run is active",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncPeriod records a period outcome.
func (m *Metrics) IncPeriod(outcome string) {
	if m != nil {
		m.Periods.WithLabelValues(outcome).Inc()
	}
}

// IncFailure records a failure at stage.
func (m *Metrics) IncFailure(stage string) {
	if m != nil {
		m.Failures.WithLabelValues(stage).Inc()
	}
}

// AddRecords records committed and skipped row counts.
func (m *Metrics) AddRecords(written, skipped int) {
	if m != nil {
		m.RecordsWritten.Add(float64(written))
		m.RowsSkipped.Add(float64(skipped))
	}
}

// AddFetchedBytes records downloaded payload size.
func (m *Metrics) AddFetchedBytes(n int) {
	if m != nil {
		m.FetchedBytes.Add(float64(n))
	}
}

// ObserveStage records the duration of a stage that began at start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// RunStarted flags a run as active.
func (m *Metrics) RunStarted() {
	if m != nil {
		m.RunInProgress.Set(1)
	}
}

// RunFinished records the run duration and clears the active flag.
func (m *Metrics) RunFinished(start time.Time) {
	if m != nil {
		m.RunDuration.Observe(time.Since(start).Seconds())
		m.LastRunUnix.Set(float64(time.Now().Unix()))
		m.RunInProgress.Set(0)
	}
}

// Push sends the registry to a Pushgateway. One-shot runs call it on exit.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("Push: push metrics to %s: %w", url, err)
	}
	return nil
}
