// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package metrics exposes Prometheus instrumentation for the cloud save
// gateway: operation latency, retry pressure, compression efficiency,
// integrity failures and event bus throughput.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway operation metrics

	SaveOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudsave_operation_duration_seconds",
			Help:    "Duration of gateway operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"}, // save, load, delete, list, batch_save / ok, error
	)

	SaveOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsave_operation_errors_total",
			Help: "Total gateway operation failures by error code",
		},
		[]string{"operation", "code"},
	)

	SaveBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudsave_bytes_written_total",
			Help: "Total compressed bytes committed to the remote store",
		},
	)

	// Compression metrics

	CompressionRatio = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudsave_compression_ratio",
			Help:    "Compressed/original size ratio per save",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"algorithm"},
	)

	CompressionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudsave_compression_fallbacks_total",
			Help: "Saves stored uncompressed because compression did not pay off",
		},
	)

	// Integrity metrics

	IntegrityFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsave_integrity_failures_total",
			Help: "Integrity validation failures by kind",
		},
		[]string{"kind"}, // checksum, structure, unserializable
	)

	IntegrityRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudsave_integrity_recoveries_total",
			Help: "States salvaged through best-effort recovery",
		},
	)

	// Retry engine metrics

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsave_retry_attempts_total",
			Help: "Failed attempts observed by the retry engine, by class",
		},
		[]string{"class"},
	)

	RetryExhaustions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsave_retry_exhaustions_total",
			Help: "Operations that spent their whole attempt budget, by class",
		},
		[]string{"class"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloudsave_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	// Event bus metrics

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudsave_events_published_total",
			Help: "Events published on the in-process bus, by kind",
		},
		[]string{"kind"},
	)

	// Quota metrics

	QuotaWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudsave_quota_warnings_total",
			Help: "Quota warnings emitted to subscribers",
		},
	)

	// HTTP metrics

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudsave_http_request_duration_seconds",
			Help:    "HTTP request duration by route pattern and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordOperation observes one gateway operation.
func RecordOperation(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SaveOperationDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// RecordOperationError counts a classified failure.
func RecordOperationError(operation, code string) {
	SaveOperationErrors.WithLabelValues(operation, code).Inc()
}

// RecordCompression observes the outcome of one compression pass.
func RecordCompression(algorithm string, ratio float64, compressed bool) {
	CompressionRatio.WithLabelValues(algorithm).Observe(ratio)
	if !compressed {
		CompressionFallbacks.Inc()
	}
}

// RecordIntegrityFailure counts an integrity failure of the given kind.
func RecordIntegrityFailure(kind string) {
	IntegrityFailures.WithLabelValues(kind).Inc()
}

// RecordRetryAttempt counts one failed attempt in the given class.
func RecordRetryAttempt(class string) {
	RetryAttempts.WithLabelValues(class).Inc()
}

// RecordRetryExhausted counts an operation that ran out of attempts.
func RecordRetryExhausted(class string) {
	RetryExhaustions.WithLabelValues(class).Inc()
}

// SetBreakerState publishes a circuit breaker state transition.
func SetBreakerState(name string, state float64) {
	BreakerState.WithLabelValues(name).Set(state)
}

// RecordHTTPRequest observes one completed HTTP request. route is the
// matched chi pattern, not the raw URL, to keep cardinality bounded.
func RecordHTTPRequest(method, route string, status int, start time.Time) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}

// RecordEventPublished counts one event on the in-process bus.
func RecordEventPublished(kind string) {
	EventsPublished.WithLabelValues(kind).Inc()
}
