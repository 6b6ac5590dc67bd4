package app

import (
	"time"

	"notification-hub/shared/pkg/domain"
)

type NotificationView struct {
	ID               string            `json:"id"`
	RecipientAddress string            `json:"recipientAddress"`
	RecipientName    string            `json:"recipientName,omitempty"`
	Channel          domain.Channel    `json:"channel"`
	Subject          string            `json:"subject"`
	Body             string            `json:"body"`
	IsHTML           bool              `json:"isHtml"`
	Status           domain.Status     `json:"status"`
	Priority         domain.Priority   `json:"priority"`
	TemplateID       string            `json:"templateId,omitempty"`
	ScheduledAt      *time.Time        `json:"scheduledAt,omitempty"`
	SentAt           *time.Time        `json:"sentAt,omitempty"`
	DeliveredAt      *time.Time        `json:"deliveredAt,omitempty"`
	FailureReason    string            `json:"failureReason,omitempty"`
	RetryCount       int               `json:"retryCount"`
	Metadata         map[string]string `json:"metadata"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

func notificationView(n *domain.Notification) NotificationView {
	s := n.Snapshot()
	md := s.Metadata
	if md == nil {
		md = map[string]string{}
	}
	return NotificationView{
		ID:               s.ID,
		RecipientAddress: s.RecipientAddress,
		RecipientName:    s.RecipientName,
		Channel:          s.Channel,
		Subject:          s.Subject,
		Body:             s.Body,
		IsHTML:           s.IsHTML,
		Status:           s.Status,
		Priority:         s.Priority,
		TemplateID:       s.TemplateID,
		ScheduledAt:      s.ScheduledAt,
		SentAt:           s.SentAt,
		DeliveredAt:      s.DeliveredAt,
		FailureReason:    s.FailureReason,
		RetryCount:       s.RetryCount,
		Metadata:         md,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func notificationViews(ns []*domain.Notification) []NotificationView {
	out := make([]NotificationView, 0, len(ns))
	for _, n := range ns {
		out = append(out, notificationView(n))
	}
	return out
}

// Stats counts notifications per status.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Total      int64 `json:"total"`
}

func (s *Stats) set(status domain.Status, n int64) {
	switch status {
	case domain.StatusPending:
		s.Pending = n
	case domain.StatusProcessing:
		s.Processing = n
	case domain.StatusSent:
		s.Sent = n
	case domain.StatusDelivered:
		s.Delivered = n
	case domain.StatusFailed:
		s.Failed = n
	case domain.StatusCancelled:
		s.Cancelled = n
	}
	s.Total += n
}

type TemplateView struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	SubjectTemplate   string         `json:"subjectTemplate"`
	BodyTemplate      string         `json:"bodyTemplate"`
	Channel           domain.Channel `json:"channel"`
	IsHTML            bool           `json:"isHtml"`
	IsActive          bool           `json:"isActive"`
	RequiredVariables []string       `json:"requiredVariables"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

func templateView(t *domain.Template) TemplateView {
	vars := t.RequiredVariables()
	if vars == nil {
		vars = []string{}
	}
	return TemplateView{
		ID:                t.ID(),
		Name:              t.Name(),
		SubjectTemplate:   t.SubjectTemplate(),
		BodyTemplate:      t.BodyTemplate(),
		Channel:           t.Channel(),
		IsHTML:            t.IsHTML(),
		IsActive:          t.IsActive(),
		RequiredVariables: vars,
		CreatedAt:         t.CreatedAt(),
		UpdatedAt:         t.UpdatedAt(),
	}
}
