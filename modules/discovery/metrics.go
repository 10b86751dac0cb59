package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "perfilador",
	Name:      "discovery_decisions_total",
	Help:      "Discovery decisions by resulting status.",
}, []string{"status"})
