package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Navigation outcomes.
const (
	OutcomeSettled = "settled"
	OutcomeStalled = "stalled"
	OutcomeFailed  = "failed"
)

var (
	Navigations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jbd",
			Subsystem: "navigation",
			Name:      "total",
			Help:      "Navigations by outcome",
		},
		[]string{"outcome"},
	)

	StatusWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "jbd",
			Subsystem: "navigation",
			Name:      "status_wait_seconds",
			Help:      "Time callers spent waiting for a load status",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
	)

	DispatchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "jbd",
			Subsystem: "dispatch",
			Name:      "latency_seconds",
			Help:      "Time from enqueue to completion of engine tasks",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jbd",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of running sessions",
		},
	)

	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jbd",
			Subsystem: "command",
			Name:      "total",
			Help:      "Commands by group and result code",
		},
		[]string{"group", "code"},
	)
)

// NavigationOutcome classifies a terminal status slot value.
func NavigationOutcome(code int) string {
	switch {
	case code == 0:
		return OutcomeStalled
	case code < 0:
		return OutcomeFailed
	default:
		return OutcomeSettled
	}
}
