package profile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricChunkFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "perfilador",
	Name:      "profile_chunk_failures_total",
	Help:      "Chunk extraction calls that failed terminally and were skipped.",
})
