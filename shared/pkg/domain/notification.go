package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// now is swapped in tests.
var now = func() time.Time { return time.Now().UTC() }

type action string

const (
	actionProcess action = "mark as processing"
	actionSend    action = "mark as sent"
	actionDeliver action = "mark as delivered"
	actionFail    action = "mark as failed"
	actionCancel  action = "cancel"
	actionRetry   action = "retry"
)

// allowedFrom is the single source of transition legality.
var allowedFrom = map[action][]Status{
	actionProcess: {StatusPending},
	actionSend:    {StatusProcessing},
	actionDeliver: {StatusSent},
	actionFail:    {StatusPending, StatusProcessing, StatusSent, StatusFailed},
	actionCancel:  {StatusPending, StatusProcessing},
	actionRetry:   {StatusFailed},
}

// Notification is the aggregate root for one message delivery.
// Status changes only through its transition methods.
type Notification struct {
	id            string
	recipient     Recipient
	content       Content
	status        Status
	priority      Priority
	templateID    string
	scheduledAt   Instant
	sentAt        Instant
	deliveredAt   Instant
	dispatchedAt  Instant
	failureReason string
	retryCount    int
	metadata      map[string]string
	createdAt     time.Time
	updatedAt     time.Time

	events []Event
}

type NotificationOption func(*Notification)

func WithPriority(p Priority) NotificationOption {
	return func(n *Notification) {
		if p != "" {
			n.priority = p
		}
	}
}

func WithTemplate(templateID string) NotificationOption {
	return func(n *Notification) { n.templateID = templateID }
}

func WithSchedule(at time.Time) NotificationOption {
	return func(n *Notification) {
		if !at.IsZero() {
			n.scheduledAt = InstantOf(at)
		}
	}
}

func WithMetadata(md map[string]string) NotificationOption {
	return func(n *Notification) {
		for k, v := range md {
			n.metadata[k] = v
		}
	}
}

// NewNotification creates a Pending notification and records NotificationCreated.
func NewNotification(recipient Recipient, content Content, opts ...NotificationOption) (*Notification, error) {
	if recipient.IsZero() {
		return nil, fieldErr("recipient", ErrEmptyValue)
	}
	if content.Body() == "" {
		return nil, fieldErr("content", ErrEmptyValue)
	}
	t := now()
	n := &Notification{
		id:        uuid.NewString(),
		recipient: recipient,
		content:   content,
		status:    StatusPending,
		priority:  PriorityNormal,
		metadata:  map[string]string{},
		createdAt: t,
		updatedAt: t,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.record(NotificationCreated{eventBase: n.base(t), Channel: recipient.Channel()})
	return n, nil
}

func (n *Notification) ID() string { return n.id }
func (n *Notification) Recipient() Recipient { return n.recipient }
func (n *Notification) Channel() Channel { return n.recipient.Channel() }
func (n *Notification) Content() Content { return n.content }
func (n *Notification) Status() Status { return n.status }
func (n *Notification) Priority() Priority { return n.priority }
func (n *Notification) TemplateID() string { return n.templateID }
func (n *Notification) ScheduledAt() Instant { return n.scheduledAt }
func (n *Notification) SentAt() Instant { return n.sentAt }
func (n *Notification) DeliveredAt() Instant { return n.deliveredAt }

// LastDispatchedAt is when the notification was last put back on the broker
// by a retry or a reconcile sweep. Unset until then.
func (n *Notification) LastDispatchedAt() Instant { return n.dispatchedAt }
func (n *Notification) FailureReason() string { return n.failureReason }
func (n *Notification) RetryCount() int { return n.retryCount }
func (n *Notification) CreatedAt() time.Time { return n.createdAt }
func (n *Notification) UpdatedAt() time.Time { return n.updatedAt }
func (n *Notification) Metadata() map[string]string { return maps.Clone(n.metadata) }

// AddMetadata sets key to value. Allowed in any status.
func (n *Notification) AddMetadata(key, value string) {
	n.metadata[key] = value
	n.updatedAt = now()
}

// MarkProcessing moves Pending to Processing. No event.
func (n *Notification) MarkProcessing() error {
	if err := n.guard(actionProcess); err != nil {
		return err
	}
	n.status = StatusProcessing
	n.updatedAt = now()
	return nil
}

func (n *Notification) MarkSent() error {
	if err := n.guard(actionSend); err != nil {
		return err
	}
	t := now()
	n.status = StatusSent
	n.sentAt.setOnce(t)
	n.updatedAt = t
	n.record(NotificationSent{eventBase: n.base(t)})
	return nil
}

func (n *Notification) MarkDelivered() error {
	if err := n.guard(actionDeliver); err != nil {
		return err
	}
	t := now()
	n.status = StatusDelivered
	n.deliveredAt.setOnce(t)
	n.updatedAt = t
	n.record(NotificationDelivered{eventBase: n.base(t)})
	return nil
}

// MarkFailed is allowed from every status except Delivered and Cancelled.
func (n *Notification) MarkFailed(reason string) error {
	if err := n.guard(actionFail); err != nil {
		return err
	}
	t := now()
	n.status = StatusFailed
	n.failureReason = reason
	n.updatedAt = t
	n.record(NotificationFailed{eventBase: n.base(t), Reason: reason, RetryCount: n.retryCount})
	return nil
}

func (n *Notification) Cancel() error {
	if err := n.guard(actionCancel); err != nil {
		return err
	}
	t := now()
	n.status = StatusCancelled
	n.updatedAt = t
	n.record(NotificationCancelled{eventBase: n.base(t)})
	return nil
}

// MarkDispatched records a re-publish of a Pending notification. No event.
func (n *Notification) MarkDispatched() {
	t := now()
	n.dispatchedAt = InstantOf(t)
	n.updatedAt = t
}

// CanRetry reports whether Retry would be accepted under the given bound.
func (n *Notification) CanRetry(maxRetries int) bool {
	return n.status == StatusFailed && n.retryCount < maxRetries
}

// Retry returns a Failed notification to Pending. The retry bound is the caller's
// business (see CanRetry).
func (n *Notification) Retry() error {
	if err := n.guard(actionRetry); err != nil {
		return err
	}
	t := now()
	n.status = StatusPending
	n.failureReason = ""
	n.retryCount++
	n.dispatchedAt = InstantOf(t)
	n.updatedAt = t
	n.record(NotificationRetryScheduled{eventBase: n.base(t), RetryCount: n.retryCount})
	return nil
}

// PullEvents returns the recorded events and empties the buffer.
func (n *Notification) PullEvents() []Event {
	ev := n.events
	n.events = nil
	return ev
}

func (n *Notification) guard(a action) error {
	if slices.Contains(allowedFrom[a], n.status) {
		return nil
	}
	return &TransitionError{Action: string(a), From: n.status}
}

func (n *Notification) record(e Event) { n.events = append(n.events, e) }

func (n *Notification) base(t time.Time) eventBase {
	return eventBase{NotificationID: n.id, At: t}
}

// NotificationSnapshot is the flat persisted form of a Notification.
type NotificationSnapshot struct {
	ID               string
	Channel          Channel
	RecipientAddress string
	RecipientName    string
	Subject          string
	Body             string
	IsHTML           bool
	Status           Status
	Priority         Priority
	TemplateID       string
	ScheduledAt      *time.Time
	SentAt           *time.Time
	DeliveredAt      *time.Time
	DispatchedAt     *time.Time
	FailureReason    string
	RetryCount       int
	Metadata         map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (n *Notification) Snapshot() NotificationSnapshot {
	return NotificationSnapshot{
		ID:               n.id,
		Channel:          n.recipient.channel,
		RecipientAddress: n.recipient.address,
		RecipientName:    n.recipient.name,
		Subject:          n.content.subject,
		Body:             n.content.body,
		IsHTML:           n.content.isHTML,
		Status:           n.status,
		Priority:         n.priority,
		TemplateID:       n.templateID,
		ScheduledAt:      n.scheduledAt.Ptr(),
		SentAt:           n.sentAt.Ptr(),
		DeliveredAt:      n.deliveredAt.Ptr(),
		DispatchedAt:     n.dispatchedAt.Ptr(),
		FailureReason:    n.failureReason,
		RetryCount:       n.retryCount,
		Metadata:         maps.Clone(n.metadata),
		CreatedAt:        n.createdAt,
		UpdatedAt:        n.updatedAt,
	}
}

// RestoreNotification rebuilds an aggregate from storage. Stored values are trusted
// and no event is recorded.
func RestoreNotification(s NotificationSnapshot) *Notification {
	md := maps.Clone(s.Metadata)
	if md == nil {
		md = map[string]string{}
	}
	return &Notification{
		id:            s.ID,
		recipient:     Recipient{channel: s.Channel, address: s.RecipientAddress, name: s.RecipientName},
		content:       Content{subject: s.Subject, body: s.Body, isHTML: s.IsHTML},
		status:        s.Status,
		priority:      s.Priority,
		templateID:    s.TemplateID,
		scheduledAt:   InstantFromPtr(s.ScheduledAt),
		sentAt:        InstantFromPtr(s.SentAt),
		deliveredAt:   InstantFromPtr(s.DeliveredAt),
		dispatchedAt:  InstantFromPtr(s.DispatchedAt),
		failureReason: s.FailureReason,
		retryCount:    s.RetryCount,
		metadata:      md,
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
	}
}
