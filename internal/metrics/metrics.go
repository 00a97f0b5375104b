package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring recoveries
var (
	BundlesSimulated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_bundles_simulated_total",
		Help: "Bundle simulations by result",
	}, []string{"result"})

	BundlesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_bundles_submitted_total",
		Help: "Bundle submissions by result",
	}, []string{"result"})

	SubmitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_submit_retries_total",
		Help: "Relay submissions retried after a transient failure",
	})

	InclusionPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_inclusion_polls_total",
		Help: "Inclusion monitor poll ticks by result",
	}, []string{"result"})

	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_outcomes_total",
		Help: "Terminal recovery states",
	}, []string{"state"})

	InclusionWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recovery_inclusion_wait_seconds",
		Help:    "Time from submission to a monitor outcome",
		Buckets: prometheus.ExponentialBuckets(2, 2, 8), // 2s .. 256s
	})
)
