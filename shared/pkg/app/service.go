// Package app holds the command, query and status-update handlers that sit
// between the transports and the domain.
package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"notification-hub/shared/pkg/domain"
	"notification-hub/shared/pkg/messaging"
	"notification-hub/shared/pkg/metrics"
)

const (
	DefaultMaxRetries = 3

	codePublishFailed = "publish_failed"
)

// Service runs one unit of work per call. Persistence always completes before
// anything is published.
type Service struct {
	uow        domain.UnitOfWorkFactory
	publisher  messaging.Publisher
	router     messaging.Router
	log        *zap.Logger
	now        func() time.Time
	maxRetries int
}

type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxRetries sets the retry bound; values below 1 keep the default.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func NewService(uow domain.UnitOfWorkFactory, publisher messaging.Publisher, router messaging.Router, opts ...Option) *Service {
	s := &Service{
		uow:        uow,
		publisher:  publisher,
		router:     router,
		log:        zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) MaxRetries() int { return s.maxRetries }

type SendCommand struct {
	RecipientAddress string
	RecipientName    string
	Channel          string
	Subject          string
	Body             string
	IsHTML           bool
	Priority         string
	ScheduledAt      *time.Time
	Metadata         map[string]string

	// TemplateID renders Subject and Body from a stored template bound with Variables.
	TemplateID string
	Variables  map[string]string
}

// Send validates cmd, stores a Pending notification and publishes it to the
// channel queue. When the publish fails after the save, Send returns the id
// together with a KindFailure error.
func (s *Service) Send(ctx context.Context, cmd SendCommand) (string, error) {
	channel, err := domain.ParseChannel(cmd.Channel)
	if err != nil {
		return "", classify(err, "unsupported channel")
	}
	priority, err := domain.ParsePriority(cmd.Priority)
	if err != nil {
		return "", classify(err, "invalid priority")
	}
	if cmd.ScheduledAt != nil && !cmd.ScheduledAt.After(s.now()) {
		return "", validation("scheduled_in_past", "scheduledAt must be in the future")
	}
	recipient, err := domain.NewRecipient(channel, cmd.RecipientAddress, cmd.RecipientName)
	if err != nil {
		return "", classify(err, "invalid recipient")
	}

	uow := s.uow.New()
	subject, body, isHTML := cmd.Subject, cmd.Body, cmd.IsHTML
	if cmd.TemplateID != "" {
		tpl, err := uow.Templates().Get(ctx, cmd.TemplateID)
		if err != nil {
			return "", classify(err, "template not found")
		}
		switch {
		case !tpl.IsActive():
			return "", validation("template_inactive", "template is not active")
		case tpl.Channel() != channel:
			return "", validation("template_channel_mismatch", "template belongs to channel "+tpl.Channel().String())
		}
		if err := tpl.ValidateVariables(cmd.Variables); err != nil {
			return "", classify(err, "template variables missing")
		}
		subject, body = tpl.Render(cmd.Variables)
		isHTML = tpl.IsHTML()
	}
	if channel == domain.ChannelEmail && strings.TrimSpace(subject) == "" {
		return "", validation("subject_required", "subject is required for email")
	}
	content, err := domain.NewContent(subject, body, isHTML)
	if err != nil {
		return "", classify(err, "invalid content")
	}

	opts := []domain.NotificationOption{domain.WithPriority(priority), domain.WithMetadata(cmd.Metadata)}
	if cmd.ScheduledAt != nil {
		opts = append(opts, domain.WithSchedule(*cmd.ScheduledAt))
	}
	if cmd.TemplateID != "" {
		opts = append(opts, domain.WithTemplate(cmd.TemplateID))
	}
	n, err := domain.NewNotification(recipient, content, opts...)
	if err != nil {
		return "", classify(err, "invalid notification")
	}

	queue, err := s.router.QueueFor(channel)
	if err != nil {
		return "", classify(err, "no queue for channel")
	}
	if err := uow.Notifications().Add(ctx, n); err != nil {
		return "", classify(err, "stage notification")
	}
	if _, err := uow.SaveChanges(ctx); err != nil {
		return "", classify(err, "save notification")
	}
	metrics.TransitionsApplied.WithLabelValues(string(domain.StatusPending)).Inc()

	if err := s.dispatch(ctx, n, queue, n.ScheduledAt()); err != nil {
		return n.ID(), err
	}
	s.log.Info("notification accepted",
		zap.String("notification_id", n.ID()),
		zap.String("channel", string(channel)),
		zap.String("queue", queue),
		zap.Bool("scheduled", n.ScheduledAt().IsSet()),
	)
	return n.ID(), nil
}

// Cancel moves a Pending or Processing notification to Cancelled.
func (s *Service) Cancel(ctx context.Context, id string) error {
	uow := s.uow.New()
	n, err := uow.Notifications().Get(ctx, id)
	if err != nil {
		return classify(err, "notification not found")
	}
	if err := n.Cancel(); err != nil {
		return classify(err, "notification cannot be cancelled")
	}
	if err := s.save(ctx, uow, n); err != nil {
		return err
	}
	s.log.Info("notification cancelled", zap.String("notification_id", id))
	return nil
}

// Retry returns a Failed notification to Pending and publishes it again
// immediately.
func (s *Service) Retry(ctx context.Context, id string) error {
	uow := s.uow.New()
	n, err := uow.Notifications().Get(ctx, id)
	if err != nil {
		return classify(err, "notification not found")
	}
	if !n.CanRetry(s.maxRetries) {
		return validation("retry_not_allowed", "notification cannot be retried")
	}
	return s.retry(ctx, uow, n)
}

func (s *Service) retry(ctx context.Context, uow domain.UnitOfWork, n *domain.Notification) error {
	if err := n.Retry(); err != nil {
		return classify(err, "notification cannot be retried")
	}
	queue, err := s.router.QueueFor(n.Channel())
	if err != nil {
		return classify(err, "no queue for channel")
	}
	if err := s.save(ctx, uow, n); err != nil {
		return err
	}
	s.log.Info("notification retry scheduled",
		zap.String("notification_id", n.ID()),
		zap.Int("retry_count", n.RetryCount()),
	)
	return s.dispatch(ctx, n, queue, domain.Instant{})
}

// ReconcilePending publishes again every Pending notification due at or before
// before that was not already re-published after before. It covers
// notifications whose publish failed after they were saved, so a notification
// may be delivered more than once. Each re-publish is recorded first, so the
// next sweep skips it until it is older than before again. Failures are logged
// and the sweep continues; the number published is returned with the last error.
func (s *Service) ReconcilePending(ctx context.Context, before time.Time) (int, error) {
	uow := s.uow.New()
	pending, err := uow.Notifications().GetPendingScheduledBefore(ctx, before)
	if err != nil {
		return 0, classify(err, "list pending notifications")
	}

	var (
		published int
		lastErr   error
	)
	for _, n := range pending {
		if err := ctx.Err(); err != nil {
			return published, classify(err, "reconcile interrupted")
		}
		queue, err := s.router.QueueFor(n.Channel())
		if err != nil {
			lastErr = classify(err, "no queue for channel")
			s.log.Warn("reconcile skipped", zap.String("notification_id", n.ID()), zap.Error(err))
			continue
		}
		if err := s.stampDispatch(ctx, uow, n); err != nil {
			lastErr = err
			s.log.Warn("reconcile skipped", zap.String("notification_id", n.ID()), zap.Error(err))
			continue
		}
		if err := s.dispatch(ctx, n, queue, domain.Instant{}); err != nil {
			lastErr = err
			continue
		}
		published++
	}
	if len(pending) > 0 {
		s.log.Info("reconciled pending notifications",
			zap.Int("found", len(pending)),
			zap.Int("published", published),
		)
	}
	return published, lastErr
}

func (s *Service) stampDispatch(ctx context.Context, uow domain.UnitOfWork, n *domain.Notification) error {
	n.MarkDispatched()
	if err := uow.Notifications().Update(ctx, n); err != nil {
		return classify(err, "stage notification")
	}
	if _, err := uow.SaveChanges(ctx); err != nil {
		return classify(err, "save notification")
	}
	return nil
}

func (s *Service) save(ctx context.Context, uow domain.UnitOfWork, n *domain.Notification) error {
	if err := uow.Notifications().Update(ctx, n); err != nil {
		return classify(err, "stage notification")
	}
	if _, err := uow.SaveChanges(ctx); err != nil {
		return classify(err, "save notification")
	}
	metrics.TransitionsApplied.WithLabelValues(string(n.Status())).Inc()
	return nil
}

func (s *Service) dispatch(ctx context.Context, n *domain.Notification, queue string, scheduledAt domain.Instant) error {
	msg := messaging.NewSendMessage(n)
	if err := messaging.Dispatch(ctx, s.publisher, msg, queue, scheduledAt, s.now()); err != nil {
		s.log.Error("publish failed, notification left pending",
			zap.String("notification_id", n.ID()),
			zap.String("queue", queue),
			zap.Error(err),
		)
		return newError(KindFailure, codePublishFailed, "notification saved but not published", err)
	}
	return nil
}
