package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "queue_enqueued_total",
		Help:      "Entries accepted into a queue.",
	}, []string{"table"})
	metricClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "queue_claimed_total",
		Help:      "Entries claimed by workers.",
	}, []string{"table"})
	metricFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "queue_finished_total",
		Help:      "Entries that reached a terminal status.",
	}, []string{"table", "status"})
	metricLostAcks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfilador",
		Name:      "queue_lost_acks_total",
		Help:      "Acks that found the entry reclaimed by the visibility timeout.",
	}, []string{"table"})
)
