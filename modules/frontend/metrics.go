package frontend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "perfilador",
	Name:      "frontend_requests_total",
	Help:      "Facade requests by path and status.",
}, []string{"path", "status"})
