package messaging

import (
	"time"

	"github.com/google/uuid"

	"notification-hub/shared/pkg/domain"
)

type RecipientPayload struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type ContentPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	IsHTML  bool   `json:"isHtml"`
}

// SendNotificationMessage is what a channel worker receives.
type SendNotificationMessage struct {
	NotificationID string            `json:"notificationId"`
	CorrelationID  string            `json:"correlationId"`
	Channel        domain.Channel    `json:"channel"`
	Recipient      RecipientPayload  `json:"recipient"`
	Content        ContentPayload    `json:"content"`
	Priority       domain.Priority   `json:"priority"`
	TemplateID     string            `json:"templateId,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	RetryCount     int               `json:"retryCount"`
}

// NewSendMessage builds the outbound message for n with a fresh correlation id.
func NewSendMessage(n *domain.Notification) SendNotificationMessage {
	r, c := n.Recipient(), n.Content()
	return SendNotificationMessage{
		NotificationID: n.ID(),
		CorrelationID:  uuid.NewString(),
		Channel:        r.Channel(),
		Recipient:      RecipientPayload{Address: r.Address(), Name: r.Name()},
		Content:        ContentPayload{Subject: c.Subject(), Body: c.Body(), IsHTML: c.IsHTML()},
		Priority:       n.Priority(),
		TemplateID:     n.TemplateID(),
		Metadata:       n.Metadata(),
		CreatedAt:      n.CreatedAt(),
		RetryCount:     n.RetryCount(),
	}
}

// StatusMessage is what a channel worker reports back on QueueStatus.
type StatusMessage struct {
	NotificationID string         `json:"notificationId"`
	CorrelationID  string         `json:"correlationId,omitempty"`
	Status         domain.Status  `json:"status"`
	Channel        domain.Channel `json:"channel"`
	ExternalID     string         `json:"externalId,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	ErrorCode      string         `json:"errorCode,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	RetryCount     int            `json:"retryCount"`
	ShouldRetry    bool           `json:"shouldRetry"`
}

// DeadLetter wraps a message no handler could process.
type DeadLetter struct {
	Queue    string    `json:"queue"`
	Reason   string    `json:"reason"`
	Payload  string    `json:"payload"`
	FailedAt time.Time `json:"failedAt"`
}
