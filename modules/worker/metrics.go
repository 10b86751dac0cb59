package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "worker_entries_total",
		Help:      "Queue entries processed by outcome.",
	}, []string{"queue", "outcome"})
	metricHandleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perfilador",
		Name:      "worker_entry_duration_seconds",
		Help:      "Time spent handling one queue entry.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"queue"})
)
