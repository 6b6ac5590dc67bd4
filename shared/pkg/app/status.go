package app

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"notification-hub/shared/pkg/domain"
	"notification-hub/shared/pkg/messaging"
)

const defaultFailureReason = "delivery failed"

// ApplyStatus applies a worker's status report through the notification's
// transitions. A report that is illegal from the stored status (a duplicate or
// out of order) returns KindValidation and should be treated as consumed.
// A retryable failure under the retry bound is retried and published again.
func (s *Service) ApplyStatus(ctx context.Context, msg messaging.StatusMessage) error {
	uow := s.uow.New()
	n, err := uow.Notifications().Get(ctx, msg.NotificationID)
	if err != nil {
		return classify(err, "notification not found")
	}
	if msg.Channel != "" && msg.Channel != n.Channel() {
		return validation("channel_mismatch", "status report for channel "+string(msg.Channel)+" does not match notification")
	}

	if err := advance(n, msg); err != nil {
		return classify(err, "status report rejected")
	}
	if msg.ExternalID != "" {
		n.AddMetadata("externalId", msg.ExternalID)
	}
	if msg.ErrorCode != "" {
		n.AddMetadata("errorCode", msg.ErrorCode)
	}
	if err := s.save(ctx, uow, n); err != nil {
		return err
	}
	s.log.Info("status applied",
		zap.String("notification_id", n.ID()),
		zap.String("status", string(n.Status())),
		zap.String("correlation_id", msg.CorrelationID),
	)

	if n.Status() == domain.StatusFailed && msg.ShouldRetry && n.CanRetry(s.maxRetries) {
		return s.retry(ctx, uow, n)
	}
	return nil
}

// advance walks n forward to the reported status. Sent from Pending and
// Delivered from Pending or Processing pass through the skipped states.
func advance(n *domain.Notification, msg messaging.StatusMessage) error {
	switch msg.Status {
	case domain.StatusProcessing:
		return n.MarkProcessing()
	case domain.StatusSent:
		if n.Status() == domain.StatusPending {
			if err := n.MarkProcessing(); err != nil {
				return err
			}
		}
		return n.MarkSent()
	case domain.StatusDelivered:
		if n.Status() == domain.StatusPending {
			if err := n.MarkProcessing(); err != nil {
				return err
			}
		}
		if n.Status() == domain.StatusProcessing {
			if err := n.MarkSent(); err != nil {
				return err
			}
		}
		return n.MarkDelivered()
	case domain.StatusFailed:
		reason := msg.ErrorMessage
		if reason == "" {
			reason = defaultFailureReason
		}
		return n.MarkFailed(reason)
	case domain.StatusCancelled:
		return n.Cancel()
	}
	return &domain.TransitionError{Action: "report " + string(msg.Status) + " for", From: n.Status()}
}

// StatusHandler decodes status reports from the status queue and applies them.
// Undecodable reports are forwarded to the dead-letter queue. Unknown ids and
// rejected transitions are logged and consumed; infrastructure failures are
// returned as temporary so the broker redelivers.
func (s *Service) StatusHandler(deadLetters messaging.Publisher) messaging.Handler {
	return func(ctx context.Context, body []byte) error {
		var msg messaging.StatusMessage
		if err := json.Unmarshal(body, &msg); err != nil || msg.NotificationID == "" {
			reason := "missing notificationId"
			if err != nil {
				reason = "decode: " + err.Error()
			}
			s.log.Warn("dead-lettering status report", zap.String("reason", reason))
			dl := messaging.DeadLetter{Queue: messaging.QueueStatus, Reason: reason, Payload: string(body), FailedAt: s.now()}
			return messaging.Temporary(deadLetters.Publish(ctx, dl, messaging.QueueDeadLetter))
		}

		err := s.ApplyStatus(ctx, msg)
		if err == nil {
			return nil
		}
		var appErr *Error
		// a failed re-publish after a saved retry is left to the reconcile sweep
		if errors.As(err, &appErr) && appErr.Kind == KindFailure && appErr.Code != codePublishFailed {
			return messaging.Temporary(err)
		}
		s.log.Warn("status report dropped",
			zap.String("notification_id", msg.NotificationID),
			zap.String("status", string(msg.Status)),
			zap.Error(err),
		)
		return nil
	}
}
