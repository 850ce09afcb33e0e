// Package metrics exposes the Prometheus counters of the reservation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts lifecycle operations by name and outcome
	// (ok, precondition, error).
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryoqueue",
		Name:      "transitions_total",
		Help:      "Reservation lifecycle operations by outcome.",
	}, []string{"op", "outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryoqueue",
		Name:      "notifications_total",
		Help:      "In-app notifications emitted by kind.",
	}, []string{"kind"})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryoqueue",
		Name:      "notification_failures_total",
		Help:      "Post-transition notification passes that failed and were dropped.",
	})

	PushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryoqueue",
		Name:      "push_deliveries_total",
		Help:      "Web push delivery attempts by result.",
	}, []string{"result"})

	Reminders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryoqueue",
		Name:      "reminders_total",
		Help:      "Reminder scan decisions by kind and result.",
	}, []string{"kind", "result"})

	NoMatch = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryoqueue",
		Name:      "match_failures_total",
		Help:      "Submissions for which no compatible machine was found.",
	})

	QueueHeals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryoqueue",
		Name:      "queue_heals_total",
		Help:      "Reorders that repaired duplicate or missing positions.",
	})

	TelemetryPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryoqueue",
		Name:      "telemetry_polls_total",
		Help:      "Cryostat temperature polls by result.",
	}, []string{"result"})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryoqueue",
		Name:      "events_published_total",
		Help:      "Queue update events published by result.",
	}, []string{"result"})
)
