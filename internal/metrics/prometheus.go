// Package metrics exports guardian's Prometheus metrics
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by route, method and status
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration observes HTTP handler latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardian_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// SamplesReceived counts raw samples by ingestion channel
	SamplesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_samples_received_total",
			Help: "Total number of raw samples received",
		},
		[]string{"channel"},
	)

	// DuplicatesFiltered counts samples dropped as exact duplicates
	DuplicatesFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_duplicates_filtered_total",
			Help: "Total number of duplicate samples filtered during extraction",
		},
	)

	// ReadingsStored counts persisted readings by kind
	ReadingsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_readings_stored_total",
			Help: "Total number of normalized readings persisted",
		},
		[]string{"kind"},
	)

	// IngestErrors counts failed ingestion batches by channel
	IngestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_ingest_errors_total",
			Help: "Total number of ingestion batches that failed",
		},
		[]string{"channel"},
	)

	// AlertsRaised counts critical rhythm alerts by rhythm
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_alerts_raised_total",
			Help: "Total number of critical rhythm alerts raised",
		},
		[]string{"rhythm"},
	)

	// AlertsSuppressed counts alerts dropped by the notification cooldown
	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by the cooldown",
		},
	)

	// MonitoredPatients is the number of patients evaluated in the last cycle
	MonitoredPatients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_monitored_patients",
			Help: "Number of patients evaluated in the last monitoring cycle",
		},
	)

	// CycleDuration observes the latency of one evaluation cycle
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guardian_cycle_duration_seconds",
			Help:    "Duration of one monitoring cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CacheHits counts snapshot cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_cache_hits_total",
			Help: "Total number of snapshot cache hits",
		},
	)

	// CacheMisses counts snapshot cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_cache_misses_total",
			Help: "Total number of snapshot cache misses",
		},
	)
)
