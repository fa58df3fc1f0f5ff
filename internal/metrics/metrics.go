// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

// Package metrics provides Prometheus instrumentation for the core
// pipeline: normalization, windowed aggregation, trend ranking,
// recommendation scoring, and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Normalizer metrics
	EventsNormalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_normalized_total",
			Help: "Total number of raw events successfully normalized",
		},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_failures_total",
			Help: "Total number of raw events rejected during normalization",
		},
		[]string{"field"},
	)

	LateEventsTagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "late_events_tagged_total",
			Help: "Total number of events tagged late by the normalizer",
		},
	)

	// Aggregator metrics
	AggregateApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregate_apply_duration_seconds",
			Help:    "Duration of aggregator apply calls in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	DroppedLateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropped_late_events_total",
			Help: "Total number of late events dropped after bucket finalization",
		},
	)

	DuplicateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duplicate_events_total",
			Help: "Total number of replayed events skipped by in-window dedup",
		},
	)

	WindowRolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "window_rolls_total",
			Help: "Total number of successful window roll operations",
		},
	)

	WindowRollFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "window_roll_failures_total",
			Help: "Total number of failed window roll attempts",
		},
	)

	FinalizedBuckets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "finalized_buckets",
			Help: "Current number of finalized window buckets held in memory",
		},
	)

	// Trend ranker metrics
	TrendComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trend_computations_total",
			Help: "Total number of trend ranking computations",
		},
		[]string{"entity_type"},
	)

	TrendComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trend_compute_duration_seconds",
			Help:    "Duration of trend ranking computations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Recommendation scorer metrics
	ModelScoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_score_duration_seconds",
			Help:    "Duration of external model scoring calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ModelFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_failures_total",
			Help: "Total number of failed external model scoring calls",
		},
		[]string{"reason"}, // "timeout", "breaker_open", "error"
	)

	RecommendationsServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendations_served_total",
			Help: "Total number of recommendation requests served",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Ingest metrics
	IngestMessagesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_messages_consumed_total",
			Help: "Total number of messages consumed from the event source",
		},
	)

	IngestMessagesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_messages_rejected_total",
			Help: "Total number of messages rejected during ingest (bad payload or validation)",
		},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	// System metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordValidationFailure records a normalization rejection for a field.
func RecordValidationFailure(field string) {
	ValidationFailures.WithLabelValues(field).Inc()
}

// RecordApply records an aggregator apply call.
func RecordApply(duration time.Duration) {
	AggregateApplyDuration.Observe(duration.Seconds())
}

// RecordWindowRoll records a window roll outcome.
func RecordWindowRoll(err error) {
	if err != nil {
		WindowRollFailures.Inc()
		return
	}
	WindowRolls.Inc()
}

// RecordTrendComputation records a trend ranking computation.
func RecordTrendComputation(entityType string, duration time.Duration) {
	TrendComputations.WithLabelValues(entityType).Inc()
	TrendComputeDuration.Observe(duration.Seconds())
}

// RecordModelCall records an external model scoring call.
func RecordModelCall(duration time.Duration, failReason string) {
	ModelScoreDuration.Observe(duration.Seconds())
	if failReason != "" {
		ModelFailures.WithLabelValues(failReason).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// SetCircuitBreakerState updates the breaker state gauge.
// State values follow gobreaker ordering: 0=closed, 1=half-open, 2=open.
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
