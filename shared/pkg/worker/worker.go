// Package worker consumes one channel queue, hands each message to the
// channel's Sender and reports the outcome on the status queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notification-hub/shared/pkg/domain"
	"notification-hub/shared/pkg/messaging"
	"notification-hub/shared/pkg/metrics"
)

const (
	outcomeOK         = "ok"
	outcomeError      = "error"
	outcomeDeadLetter = "deadletter"
)

type Worker struct {
	channel   domain.Channel
	queue     string
	sender    Sender
	consumer  messaging.Consumer
	publisher messaging.Publisher
	log       *zap.Logger
	now       func() time.Time
}

// New resolves the queue and sender for channel once.
func New(channel domain.Channel, router messaging.Router, senders *Registry, consumer messaging.Consumer, publisher messaging.Publisher, log *zap.Logger) (*Worker, error) {
	queue, err := router.QueueFor(channel)
	if err != nil {
		return nil, err
	}
	sender, err := senders.Get(channel)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		channel:   channel,
		queue:     queue,
		sender:    sender,
		consumer:  consumer,
		publisher: publisher,
		log:       log.With(zap.String("queue", queue)),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (w *Worker) Queue() string { return w.queue }

// Run consumes until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", zap.String("channel", string(w.channel)))
	return w.consumer.Consume(ctx, w.queue, w.Handle)
}

// Handle processes one message body. Malformed messages go to the dead-letter
// queue. Only a failure to report status is returned, as a temporary error,
// so the broker redelivers the message.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var msg messaging.SendNotificationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return w.deadLetter(ctx, body, "decode: "+err.Error())
	}
	if msg.NotificationID == "" {
		return w.deadLetter(ctx, body, "missing notificationId")
	}
	if msg.Channel != w.channel {
		return w.deadLetter(ctx, body, fmt.Sprintf("channel %q on %s queue", msg.Channel, w.channel))
	}

	if err := w.report(ctx, msg, domain.StatusProcessing, func(*messaging.StatusMessage) {}); err != nil {
		return err
	}

	res, err := w.sender.Send(ctx, msg)
	if err != nil {
		metrics.MessagesConsumed.WithLabelValues(w.queue, outcomeError).Inc()
		w.log.Warn("send failed", zap.String("notification_id", msg.NotificationID), zap.Error(err))
		return w.report(ctx, msg, domain.StatusFailed, func(s *messaging.StatusMessage) {
			s.ErrorMessage = err.Error()
			s.ShouldRetry = messaging.IsRetryable(err)
		})
	}

	metrics.MessagesConsumed.WithLabelValues(w.queue, outcomeOK).Inc()
	return w.report(ctx, msg, domain.StatusSent, func(s *messaging.StatusMessage) {
		s.ExternalID = res.ExternalID
		if !res.At.IsZero() {
			s.Timestamp = res.At
		}
	})
}

func (w *Worker) report(ctx context.Context, msg messaging.SendNotificationMessage, status domain.Status, fill func(*messaging.StatusMessage)) error {
	s := messaging.StatusMessage{
		NotificationID: msg.NotificationID,
		CorrelationID:  msg.CorrelationID,
		Status:         status,
		Channel:        msg.Channel,
		Timestamp:      w.now(),
		RetryCount:     msg.RetryCount,
	}
	fill(&s)
	if err := w.publisher.Publish(ctx, s, messaging.QueueStatus); err != nil {
		return messaging.Temporary(fmt.Errorf("report %s for %s: %w", status, msg.NotificationID, err))
	}
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, body []byte, reason string) error {
	metrics.MessagesConsumed.WithLabelValues(w.queue, outcomeDeadLetter).Inc()
	w.log.Warn("dead-lettering message", zap.String("reason", reason))
	dl := messaging.DeadLetter{Queue: w.queue, Reason: reason, Payload: string(body), FailedAt: w.now()}
	if err := w.publisher.Publish(ctx, dl, messaging.QueueDeadLetter); err != nil {
		return messaging.Temporary(fmt.Errorf("dead-letter: %w", err))
	}
	return nil
}
