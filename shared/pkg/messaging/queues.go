package messaging

import (
	"fmt"

	"notification-hub/shared/pkg/domain"
)

// Queue names
const (
	QueueEmail      = "notifications.email"
	QueueSMS        = "notifications.sms"
	QueuePush       = "notifications.push"
	QueueWebhook    = "notifications.webhook"
	QueueInApp      = "notifications.inapp"
	QueueStatus     = "notifications.status"
	QueueDeadLetter = "notifications.deadletter"
)

// Router maps every channel to the queue its worker consumes. The zero value
// routes nothing; use DefaultRouter or NewRouter.
type Router struct {
	queues map[domain.Channel]string
}

func DefaultRouter() Router {
	return Router{queues: map[domain.Channel]string{
		domain.ChannelEmail:   QueueEmail,
		domain.ChannelSMS:     QueueSMS,
		domain.ChannelPush:    QueuePush,
		domain.ChannelWebhook: QueueWebhook,
		domain.ChannelInApp:   QueueInApp,
	}}
}

// NewRouter builds a router from a per-deployment table. The table must name a
// distinct, non-empty queue for each of the five channels.
func NewRouter(table map[domain.Channel]string) (Router, error) {
	queues := make(map[domain.Channel]string, len(domain.Channels))
	used := map[string]domain.Channel{}
	for _, ch := range domain.Channels {
		q := table[ch]
		if q == "" {
			return Router{}, fmt.Errorf("no queue for channel %s", ch)
		}
		if other, dup := used[q]; dup {
			return Router{}, fmt.Errorf("queue %q routed from both %s and %s", q, other, ch)
		}
		used[q] = ch
		queues[ch] = q
	}
	for ch := range table {
		if !ch.Valid() {
			return Router{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedChannel, ch)
		}
	}
	return Router{queues: queues}, nil
}

// QueueFor returns the queue for ch or domain.ErrUnsupportedChannel.
func (r Router) QueueFor(ch domain.Channel) (string, error) {
	q, ok := r.queues[ch]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedChannel, ch)
	}
	return q, nil
}

// Queues lists the channel queues in channel order.
func (r Router) Queues() []string {
	out := make([]string, 0, len(r.queues))
	for _, ch := range domain.Channels {
		if q, ok := r.queues[ch]; ok {
			out = append(out, q)
		}
	}
	return out
}
