package app

import (
	"context"

	"go.uber.org/zap"

	"notification-hub/shared/pkg/domain"
)

// EventLogger returns a domain.EventHandler that writes each committed event
// to log.
func EventLogger(log *zap.Logger) domain.EventHandler {
	return domain.EventHandlerFunc(func(_ context.Context, events []domain.Event) error {
		for _, e := range events {
			log.Info("domain event",
				zap.String("event", e.EventName()),
				zap.String("notification_id", e.AggregateID()),
				zap.Time("occurred_at", e.OccurredAt()),
			)
		}
		return nil
	})
}
