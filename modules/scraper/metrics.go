package scraper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "scraper_fetches_total",
		Help:      "Page fetches by strategy and outcome.",
	}, []string{"strategy", "outcome"})
	metricFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perfilador",
		Name:      "scraper_fetch_duration_seconds",
		Help:      "Fetch latency by strategy.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 9),
	}, []string{"strategy"})
	metricProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "scraper_probes_total",
		Help:      "Origin probes by outcome.",
	}, []string{"outcome"})
	metricScrapes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "scraper_runs_total",
		Help:      "Full scrape pipeline runs by outcome.",
	}, []string{"outcome"})
)
