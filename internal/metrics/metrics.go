// Package metrics holds the Prometheus collectors shared by the circle engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts suggestion cache lookups by result (hit, l2_hit, miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circles_cache_lookups_total",
		Help: "Suggestion cache lookups by result",
	}, []string{"result"})

	// CacheInvalidations counts evicted suggestion entries.
	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circles_cache_invalidations_total",
		Help: "Suggestion cache entries invalidated",
	})

	// Analyses counts contact analyses by mode and result.
	Analyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circles_analyses_total",
		Help: "Contact analyses by mode and result",
	}, []string{"mode", "result"})

	// AnalysisDuration tracks single-contact pipeline latency.
	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "circles_analysis_duration_seconds",
		Help:    "Signal extraction, scoring and classification latency",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"mode"})

	// BatchInFlight is the number of evaluations currently running.
	BatchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "circles_batch_in_flight",
		Help: "Batch evaluations currently in flight",
	})

	// BatchItems counts batch items by outcome (succeeded, failed).
	BatchItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circles_batch_items_total",
		Help: "Batch items by outcome",
	}, []string{"outcome"})

	// Assignments counts committed assignments by source (user, ai).
	Assignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circles_assignments_total",
		Help: "Committed circle assignments by source",
	}, []string{"assigned_by"})

	// RebalanceSuggestions counts emitted rebalance suggestions by source circle.
	RebalanceSuggestions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circles_rebalance_suggestions_total",
		Help: "Rebalance suggestions by source circle",
	}, []string{"from"})
)
