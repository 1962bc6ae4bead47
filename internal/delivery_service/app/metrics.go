package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesEnqueuedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge_queue",
			Name:      "messages_enqueued_total",
			Help:      "Total messages enqueued for delivery.",
		},
		[]string{"kind"},
	)

	messagesProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge_queue",
			Name:      "messages_processed_total",
			Help:      "Total delivery attempts by outcome.",
		},
		[]string{"kind", "outcome"}, // outcome: sent, retry, failed
	)

	deliveryDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridge_queue",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of a single delivery attempt to the chat platform.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	drainDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "bridge_queue",
			Name:      "drain_duration_seconds",
			Help:      "Duration of one drain pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	queueDepthGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bridge_queue",
			Name:      "messages",
			Help:      "Messages currently stored, by status.",
		},
		[]string{"status"},
	)

	messagesPurgedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bridge_queue",
			Name:      "messages_purged_total",
			Help:      "Total terminal messages removed by retention.",
		},
	)
)
