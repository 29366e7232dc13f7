package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DiversityForced counts deadlock-breaker fires in the diversity pass.
	// Non-zero values mean a page did not have enough distinct authors.
	DiversityForced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_diversity_forced_total",
		Help: "Items appended by the diversity deadlock breaker",
	})

	TelemetryDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_telemetry_dropped_total",
		Help: "Telemetry events dropped after exhausting attempts or on overflow",
	}, []string{"kind", "reason"})

	TelemetryFlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_telemetry_flush_failures_total",
		Help: "Telemetry flushes that failed and were rescheduled",
	})

	StalePagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_stale_pages_dropped_total",
		Help: "Ranker responses discarded because a newer refresh nonce superseded them",
	})

	ImpressionsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_impressions_emitted_total",
		Help: "Impressions finalized by the visibility coordinator",
	})
)
