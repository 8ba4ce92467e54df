package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeError   = "error"
)

type metrics struct {
	polls            *prometheus.CounterVec
	pollDuration     prometheus.Histogram
	changes          prometheus.Counter
	skippedFires     prometheus.Counter
	reconciles       *prometheus.CounterVec
	scheduledTargets prometheus.Gauge
}

// newMetrics registers the checker collectors on reg. A nil reg gets a
// private registry so tests can build many schedulers.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &metrics{
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watcher_polls_total",
			Help: "Polls performed, by outcome (success, failure, error).",
		}, []string{"outcome"}),
		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "watcher_poll_duration_seconds",
			Help:    "Wall time of a single poll.",
			Buckets: prometheus.DefBuckets,
		}),
		changes: factory.NewCounter(prometheus.CounterOpts{
			Name: "watcher_content_changes_total",
			Help: "Checks whose fingerprint differed from the previous one.",
		}),
		skippedFires: factory.NewCounter(prometheus.CounterOpts{
			Name: "watcher_fires_skipped_total",
			Help: "Timer fires dropped because a check for the target was still running.",
		}),
		reconciles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watcher_reconcile_total",
			Help: "Schedule reconciliations, by result.",
		}, []string{"result"}),
		scheduledTargets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "watcher_scheduled_targets",
			Help: "Targets that currently hold a timer.",
		}),
	}
}

func pollOutcome(success bool, errMsg *string) string {
	switch {
	case success:
		return outcomeSuccess
	case errMsg != nil:
		return outcomeError
	default:
		return outcomeFailure
	}
}
