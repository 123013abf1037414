// Ranksheet - Keyword Rank Sheet Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ranksheet

// Package metrics provides Prometheus instrumentation for the refresh
// pipeline: refresh outcomes, queue activity, cache efficiency, upstream
// client behavior, and circuit breaker state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Refresh pipeline metrics
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ranksheet_refresh_duration_seconds",
			Help:    "Duration of single-keyword refreshes in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"}, // "success", "failed", "lock_contended"
	)

	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranksheet_refresh_total",
			Help: "Total number of keyword refreshes by outcome",
		},
		[]string{"outcome"},
	)

	RefreshRowsScored = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ranksheet_refresh_rows_scored",
			Help:    "Scorable rows surviving filtering per refresh",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ranksheet_batch_duration_seconds",
			Help:    "Duration of full-batch refreshes in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800},
		},
	)

	// Job queue metrics
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranksheet_jobs_enqueued_total",
			Help: "Total queue inserts by job name and dedup outcome",
		},
		[]string{"job_name", "result"}, // "inserted", "duplicate"
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranksheet_jobs_completed_total",
			Help: "Total jobs moved to a terminal status",
		},
		[]string{"job_name", "status"}, // "SUCCESS", "FAILED"
	)

	JobsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ranksheet_jobs_reclaimed_total",
			Help: "RUNNING jobs force-failed by the stale sweep",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ranksheet_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 600, 1800},
		},
		[]string{"job_name"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ranksheet_queue_depth",
			Help: "QUEUED rows observed at the last poll",
		},
	)

	// ASIN cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranksheet_asin_cache_hits_total",
			Help: "Cache hits by entry status",
		},
		[]string{"status"}, // "EXISTS", "NOT_FOUND"
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ranksheet_asin_cache_misses_total",
			Help: "Cache misses (absent, expired, or corrupt entries)",
		},
	)

	CacheCorrupt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ranksheet_asin_cache_corrupt_total",
			Help: "Cache entries dropped for failing card schema validation",
		},
	)

	CacheEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ranksheet_asin_cache_evicted_total",
			Help: "Expired cache rows physically removed",
		},
	)

	// Upstream client metrics
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ranksheet_upstream_request_duration_seconds",
			Help:    "Upstream HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream", "operation"},
	)

	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranksheet_upstream_retries_total",
			Help: "Upstream request retry attempts",
		},
		[]string{"upstream"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ranksheet_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranksheet_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranksheet_circuit_breaker_requests_total",
			Help: "Requests through circuit breakers by result",
		},
		[]string{"breaker", "result"}, // "success", "failure", "rejected"
	)

	// Advisory lock metrics
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranksheet_advisory_lock_acquisitions_total",
			Help: "Advisory lock acquisition attempts by outcome",
		},
		[]string{"outcome"}, // "acquired", "timeout", "error"
	)

	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ranksheet_advisory_lock_wait_seconds",
			Help:    "Time spent polling for advisory lock acquisition",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)
