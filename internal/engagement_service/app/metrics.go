package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	memberEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge_engagement",
			Name:      "member_events_total",
			Help:      "Membership events handled, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	welcomeOutcomesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge_engagement",
			Name:      "welcome_checks_total",
			Help:      "Welcome message gate checks, by trigger and outcome.",
		},
		[]string{"trigger", "outcome"}, // trigger: timer, sweep
	)

	pendingTimersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bridge_engagement",
			Name:      "pending_welcome_timers",
			Help:      "Welcome timers scheduled in this process.",
		},
	)
)
