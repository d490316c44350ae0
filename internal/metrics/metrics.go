// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

// Package metrics registers the Prometheus collectors for the ingestion
// pipeline. Collectors live on the default registry and are exposed by the
// serve command at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listenflow_runs_total",
			Help: "Total ingestion runs by terminal state",
		},
		[]string{"state", "dry_run"}, // state: completed, failed
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listenflow_run_duration_seconds",
			Help:    "Wall-clock duration of ingestion runs",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		},
	)

	Watermark = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "listenflow_watermark_timestamp_seconds",
			Help: "Unix time of the last committed played_at",
		},
	)

	// Record metrics
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listenflow_records_total",
			Help: "Records by outcome",
		},
		[]string{"source", "outcome"}, // outcome: read, inserted, skipped, rejected, clamped
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listenflow_rejections_total",
			Help: "Rejected records by stage and reason",
		},
		[]string{"stage", "reason"},
	)

	DimensionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listenflow_dimensions_created_total",
			Help: "Dimension rows inserted on first sight",
		},
		[]string{"dimension"}, // user, artist, track
	)

	// Batch metrics
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listenflow_batch_size",
			Help:    "Number of canonical events per committed batch",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listenflow_batch_commit_duration_seconds",
			Help:    "Time from transaction begin to commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listenflow_batch_retries_total",
			Help: "Batch commit retries after PersistenceError",
		},
	)

	ReadRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listenflow_read_retries_total",
			Help: "Whole-read retries after SourceUnavailable",
		},
	)

	// Source metrics
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listenflow_source_requests_total",
			Help: "Upstream requests by source and status",
		},
		[]string{"source", "status"}, // status: ok, error, rate_limited
	)

	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listenflow_source_request_duration_seconds",
			Help:    "Upstream request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	ArtistsEnriched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listenflow_artists_enriched_total",
			Help: "MusicBrainz artist lookups by result",
		},
		[]string{"result"}, // enriched, failed
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "listenflow_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listenflow_circuit_breaker_requests_total",
			Help: "Requests through circuit breakers by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listenflow_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Storage metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listenflow_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listenflow_duckdb_errors_total",
			Help: "DuckDB errors by operation and classification",
		},
		[]string{"operation", "class"}, // class: conflict, connection, constraint, other
	)
)

// RunOutcome is the data RecordRun needs from a finished run.
type RunOutcome struct {
	Failed    bool
	DryRun    bool
	Duration  time.Duration
	Watermark time.Time
}

// RecordRun updates run-level collectors once a run reaches a terminal state.
func RecordRun(o RunOutcome) {
	state := "completed"
	if o.Failed {
		state = "failed"
	}
	dry := "false"
	if o.DryRun {
		dry = "true"
	}
	RunsTotal.WithLabelValues(state, dry).Inc()
	RunDuration.Observe(o.Duration.Seconds())
	if !o.Watermark.IsZero() && !o.DryRun {
		Watermark.Set(float64(o.Watermark.Unix()))
	}
}

// RecordBatch updates batch collectors after a successful commit.
func RecordBatch(source string, events, inserted, skipped int, elapsed time.Duration) {
	BatchSize.Observe(float64(events))
	BatchDuration.Observe(elapsed.Seconds())
	RecordsTotal.WithLabelValues(source, "inserted").Add(float64(inserted))
	RecordsTotal.WithLabelValues(source, "skipped").Add(float64(skipped))
}

// RecordRejection increments the rejection counters.
func RecordRejection(source, stage, reason string) {
	RecordsTotal.WithLabelValues(source, "rejected").Inc()
	RejectionsTotal.WithLabelValues(stage, reason).Inc()
}

// ObserveQuery records a DuckDB query duration.
func ObserveQuery(operation string, start time.Time) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
