// Package metrics provides custom Prometheus metrics for the acquisition pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AcquisitionMetrics contains all Prometheus metrics related to image acquisition.
type AcquisitionMetrics struct {
	Attempts         *prometheus.CounterVec
	Successes        *prometheus.CounterVec
	OracleQueries    *prometheus.CounterVec
	CacheReuses      prometheus.Counter
	Propagations     prometheus.Counter
	BulkGroups       *prometheus.CounterVec
	CaptureDuration  prometheus.Histogram
	DownloadDuration prometheus.Histogram
	registry         *prometheus.Registry
}

// NewAcquisitionMetrics creates a new instance of AcquisitionMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewAcquisitionMetrics(registry *prometheus.Registry) (*AcquisitionMetrics, error) {
	m := &AcquisitionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register acquisition metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for AcquisitionMetrics.
func (m *AcquisitionMetrics) initMetrics() {
	m.Attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acquisition_attempts_total",
		Help: "Total number of acquisition attempts by strategy.",
	}, []string{"method"})

	m.Successes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acquisition_successes_total",
		Help: "Total number of successful acquisitions by strategy.",
	}, []string{"method"})

	m.OracleQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_queries_total",
		Help: "Total number of oracle queries by reported confidence.",
	}, []string{"confidence"})

	m.CacheReuses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "equivalence_cache_reuses_total",
		Help: "Total number of image paths reused from equivalent records.",
	})

	m.Propagations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "equivalence_propagations_total",
		Help: "Total number of records filled by group propagation.",
	})

	m.BulkGroups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_groups_total",
		Help: "Total number of bulk scheduler groups processed by outcome.",
	}, []string{"outcome"})

	m.CaptureDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "acquisition_capture_duration_seconds",
		Help:    "Duration of browser capture attempts in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})

	m.DownloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "acquisition_download_duration_seconds",
		Help:    "Duration of direct image downloads in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
}

// IncrementAttempts increases the attempt counter for a strategy by one.
func (m *AcquisitionMetrics) IncrementAttempts(method string) {
	m.Attempts.WithLabelValues(method).Inc()
}

// IncrementSuccesses increases the success counter for a strategy by one.
func (m *AcquisitionMetrics) IncrementSuccesses(method string) {
	m.Successes.WithLabelValues(method).Inc()
}

// IncrementOracleQueries increases the oracle query counter for a confidence tier.
func (m *AcquisitionMetrics) IncrementOracleQueries(confidence string) {
	m.OracleQueries.WithLabelValues(confidence).Inc()
}

// IncrementCacheReuses increases the cache reuse counter by one.
func (m *AcquisitionMetrics) IncrementCacheReuses() {
	m.CacheReuses.Inc()
}

// IncrementPropagations increases the propagation counter by the number of records filled.
func (m *AcquisitionMetrics) IncrementPropagations(count int) {
	m.Propagations.Add(float64(count))
}

// IncrementBulkGroups increases the bulk group counter for an outcome.
func (m *AcquisitionMetrics) IncrementBulkGroups(outcome string) {
	m.BulkGroups.WithLabelValues(outcome).Inc()
}

// ObserveCaptureDuration records the duration of a browser capture attempt in seconds.
func (m *AcquisitionMetrics) ObserveCaptureDuration(durationSeconds float64) {
	m.CaptureDuration.Observe(durationSeconds)
}

// ObserveDownloadDuration records the duration of a direct download in seconds.
func (m *AcquisitionMetrics) ObserveDownloadDuration(durationSeconds float64) {
	m.DownloadDuration.Observe(durationSeconds)
}

// Collect implements the prometheus.Collector interface.
func (m *AcquisitionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Attempts.Collect(ch)
	m.Successes.Collect(ch)
	m.OracleQueries.Collect(ch)
	ch <- m.CacheReuses
	ch <- m.Propagations
	m.BulkGroups.Collect(ch)
	ch <- m.CaptureDuration
	ch <- m.DownloadDuration
}

// Describe implements the prometheus.Collector interface.
func (m *AcquisitionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Attempts.Describe(ch)
	m.Successes.Describe(ch)
	m.OracleQueries.Describe(ch)
	ch <- m.CacheReuses.Desc()
	ch <- m.Propagations.Desc()
	m.BulkGroups.Describe(ch)
	ch <- m.CaptureDuration.Desc()
	ch <- m.DownloadDuration.Desc()
}
