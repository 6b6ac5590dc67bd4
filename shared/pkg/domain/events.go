package domain

import (
	"context"
	"time"
)

// Event is a domain event recorded by an aggregate and published after commit.
type Event interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// EventHandler receives events drained from saved aggregates.
type EventHandler interface {
	Handle(ctx context.Context, events []Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, events []Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, events []Event) error { return f(ctx, events) }

type eventBase struct {
	NotificationID string    `json:"notificationId"`
	At             time.Time `json:"occurredAt"`
}

func (e eventBase) AggregateID() string { return e.NotificationID }
func (e eventBase) OccurredAt() time.Time { return e.At }

type NotificationCreated struct {
	eventBase
	Channel Channel `json:"channel"`
}

func (NotificationCreated) EventName() string { return "notification.created" }

type NotificationSent struct{ eventBase }

func (NotificationSent) EventName() string { return "notification.sent" }

type NotificationDelivered struct{ eventBase }

func (NotificationDelivered) EventName() string { return "notification.delivered" }

type NotificationFailed struct {
	eventBase
	Reason     string `json:"reason"`
	RetryCount int    `json:"retryCount"`
}

func (NotificationFailed) EventName() string { return "notification.failed" }

type NotificationCancelled struct{ eventBase }

func (NotificationCancelled) EventName() string { return "notification.cancelled" }

type NotificationRetryScheduled struct {
	eventBase
	RetryCount int `json:"retryCount"`
}

func (NotificationRetryScheduled) EventName() string { return "notification.retry_scheduled" }
