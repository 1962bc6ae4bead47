package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRunsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge_sync",
			Name:      "runs_total",
			Help:      "Reconciliation sync steps by stage and outcome.",
		},
		[]string{"stage", "outcome"}, // stage: preview, apply
	)

	syncOrdersCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge_sync",
			Name:      "orders_total",
			Help:      "Orders replayed by the reconciliation sync, by result.",
		},
		[]string{"result"}, // processed, skipped, failed
	)
)
