package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notification_hub"

// Publish modes
const (
	ModeImmediate = "immediate"
	ModeDelayed   = "delayed"
	ModeBatch     = "batch"
)

var (
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages handed to the broker, by queue and publish mode.",
		},
		[]string{"queue", "mode"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Publish attempts that returned an error.",
		},
		[]string{"queue"},
	)

	TransitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Notification status transitions persisted, by resulting status.",
		},
		[]string{"status"},
	)

	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Messages received from a queue, by outcome.",
		},
		[]string{"queue", "outcome"}, // outcome: ok, error, deadletter
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)
)
