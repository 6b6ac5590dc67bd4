package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notification-hub/shared/pkg/domain"
	"notification-hub/shared/pkg/messaging"
)

// Result is a successful hand-off to the delivery provider.
type Result struct {
	ExternalID string
	At         time.Time
}

// Sender delivers one message on a single channel. Errors wrapped with
// messaging.Temporary are reported back as retryable.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg messaging.SendNotificationMessage) (Result, error)
}

// Registry maps each channel to its Sender. It is built once at startup and
// read-only afterwards.
type Registry struct {
	senders map[domain.Channel]Sender
}

func NewRegistry(senders ...Sender) (*Registry, error) {
	r := &Registry{senders: make(map[domain.Channel]Sender, len(senders))}
	for _, s := range senders {
		ch := s.Channel()
		if !ch.Valid() {
			return nil, fmt.Errorf("register sender: %w: %q", domain.ErrUnsupportedChannel, ch)
		}
		if _, dup := r.senders[ch]; dup {
			return nil, fmt.Errorf("register sender: duplicate sender for %s", ch)
		}
		r.senders[ch] = s
	}
	return r, nil
}

// StubRegistry registers a StubSender for every channel.
func StubRegistry(delay time.Duration, log *zap.Logger) *Registry {
	r := &Registry{senders: make(map[domain.Channel]Sender, len(domain.Channels))}
	for _, ch := range domain.Channels {
		r.senders[ch] = NewStubSender(ch, delay, log)
	}
	return r
}

func (r *Registry) Get(ch domain.Channel) (Sender, error) {
	s, ok := r.senders[ch]
	if !ok {
		return nil, fmt.Errorf("no sender for %q: %w", ch, domain.ErrUnsupportedChannel)
	}
	return s, nil
}

func (r *Registry) Has(ch domain.Channel) bool {
	_, ok := r.senders[ch]
	return ok
}

// StubSender logs the message, waits for the simulated provider latency and
// returns a synthetic external id.
type StubSender struct {
	channel domain.Channel
	delay   time.Duration
	log     *zap.Logger
}

var _ Sender = (*StubSender)(nil)

func NewStubSender(ch domain.Channel, delay time.Duration, log *zap.Logger) *StubSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &StubSender{channel: ch, delay: delay, log: log.With(zap.String("channel", string(ch)))}
}

func (s *StubSender) Channel() domain.Channel { return s.channel }

func (s *StubSender) Send(ctx context.Context, msg messaging.SendNotificationMessage) (Result, error) {
	s.log.Info("sending notification",
		zap.String("notification_id", msg.NotificationID),
		zap.String("recipient", msg.Recipient.Address),
	)
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{}, messaging.Temporary(ctx.Err())
		case <-t.C:
		}
	}
	res := Result{ExternalID: uuid.NewString(), At: time.Now().UTC()}
	s.log.Info("notification sent",
		zap.String("notification_id", msg.NotificationID),
		zap.String("external_id", res.ExternalID),
	)
	return res, nil
}
