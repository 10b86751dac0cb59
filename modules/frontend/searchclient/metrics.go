package searchclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricSearches = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "perfilador",
	Name:      "search_requests_total",
	Help:      "Search vendor calls by outcome.",
}, []string{"outcome"})
