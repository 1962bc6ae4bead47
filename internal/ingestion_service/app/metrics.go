package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var webhooksReceivedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bridge_ingestion",
		Name:      "webhooks_total",
		Help:      "Total webhooks received, by topic and outcome.",
	},
	[]string{"topic", "outcome"}, // outcome: recorded, duplicate, pending_payment, disabled, ignored, rejected, error
)

var ordersProcessedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bridge_ingestion",
		Name:      "orders_processed_total",
		Help:      "Total orders run through the idempotent enqueue path.",
	},
	[]string{"source", "outcome"},
)
