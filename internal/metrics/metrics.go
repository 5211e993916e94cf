// Package metrics provides Prometheus metrics for the fetch engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a fetch run.
type Metrics struct {
	// File outcomes
	FilesFetched *prometheus.CounterVec
	FilesSkipped *prometheus.CounterVec
	FilesMissing *prometheus.CounterVec

	// Transfer volume
	BytesDownloaded *prometheus.CounterVec
	RangeRequests   *prometheus.CounterVec

	// Subsetting
	FieldsMatched *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		FilesFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridfetch_files_fetched_total",
			Help: "Files downloaded and written to the output root.",
		}, []string{"product", "product_type"}),

		FilesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridfetch_files_skipped_total",
			Help: "Candidates skipped because the destination already exists.",
		}, []string{"product", "product_type"}),

		FilesMissing: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridfetch_files_missing_total",
			Help: "Candidates the source reported as not found.",
		}, []string{"product", "product_type"}),

		BytesDownloaded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridfetch_bytes_downloaded_total",
			Help: "Payload bytes written, by product.",
		}, []string{"product", "product_type"}),

		RangeRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridfetch_range_requests_total",
			Help: "Byte-range requests issued, by product.",
		}, []string{"product", "product_type"}),

		FieldsMatched: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridfetch_index_fields_matched",
			Help:    "GRIB fields matched per index document.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"product", "product_type"}),
	}
}

// The increment helpers tolerate a nil receiver so callers that run
// without a metrics endpoint can pass nil instead of a stub.

// IncFetched records one completed file download.
func (m *Metrics) IncFetched(product, typ string) {
	if m == nil {
		return
	}
	m.FilesFetched.WithLabelValues(product, typ).Inc()
}

// IncSkipped records one candidate skipped because it already exists.
func (m *Metrics) IncSkipped(product, typ string) {
	if m == nil {
		return
	}
	m.FilesSkipped.WithLabelValues(product, typ).Inc()
}

// IncMissing records one candidate the source reported as not found.
func (m *Metrics) IncMissing(product, typ string) {
	if m == nil {
		return
	}
	m.FilesMissing.WithLabelValues(product, typ).Inc()
}

// AddBytes records payload bytes written for one file.
func (m *Metrics) AddBytes(product, typ string, n float64) {
	if m == nil {
		return
	}
	m.BytesDownloaded.WithLabelValues(product, typ).Add(n)
}

// AddRangeRequests records byte-range requests issued for one file.
func (m *Metrics) AddRangeRequests(product, typ string, n float64) {
	if m == nil {
		return
	}
	m.RangeRequests.WithLabelValues(product, typ).Add(n)
}

// ObserveFields records how many index fields matched one search expression.
func (m *Metrics) ObserveFields(product, typ string, n float64) {
	if m == nil {
		return
	}
	m.FieldsMatched.WithLabelValues(product, typ).Observe(n)
}

// Serve exposes /metrics on addr. Intended to be run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
