package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "llm_calls_total",
		Help:      "Total model calls by vendor and outcome.",
	}, []string{"vendor", "outcome"})
	metricCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perfilador",
		Name:      "llm_call_duration_seconds",
		Help:      "Model call latency by vendor.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
	}, []string{"vendor"})
	metricDegenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "llm_degenerations_total",
		Help:      "Degenerate outputs detected, by vendor and detector.",
	}, []string{"vendor", "detector"})
	metricVendorHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "perfilador",
		Name:      "llm_vendor_health_score",
		Help:      "Rolling health score per vendor, 0-100.",
	}, []string{"vendor"})
	metricVendorFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "llm_vendor_fallbacks_total",
		Help:      "Calls that moved past the first eligible vendor.",
	})
)
