package httpapi

import (
	"time"

	"notification-hub/shared/pkg/app"
)

/* -------------------- Request/Response DTO -------------------- */

type sendRequest struct {
	RecipientAddress string            `json:"recipientAddress" binding:"required"`
	RecipientName    string            `json:"recipientName"`
	Channel          string            `json:"channel"          binding:"required"` // email|sms|push|webhook|inApp
	Subject          string            `json:"subject"`
	Body             string            `json:"body"`
	IsHTML           bool              `json:"isHtml"`
	Priority         string            `json:"priority"`
	ScheduledAt      *time.Time        `json:"scheduledAt"`
	Metadata         map[string]string `json:"metadata"`
	TemplateID       string            `json:"templateId"`
	Variables        map[string]string `json:"variables"`
}

func (r sendRequest) command() app.SendCommand {
	return app.SendCommand{
		RecipientAddress: r.RecipientAddress,
		RecipientName:    r.RecipientName,
		Channel:          r.Channel,
		Subject:          r.Subject,
		Body:             r.Body,
		IsHTML:           r.IsHTML,
		Priority:         r.Priority,
		ScheduledAt:      r.ScheduledAt,
		Metadata:         r.Metadata,
		TemplateID:       r.TemplateID,
		Variables:        r.Variables,
	}
}

type createTemplateRequest struct {
	Name            string `json:"name"            binding:"required"`
	SubjectTemplate string `json:"subjectTemplate"`
	BodyTemplate    string `json:"bodyTemplate"    binding:"required"`
	Channel         string `json:"channel"         binding:"required"`
	IsHTML          bool   `json:"isHtml"`
}

type updateTemplateRequest struct {
	Name            string `json:"name"            binding:"required"`
	SubjectTemplate string `json:"subjectTemplate"`
	BodyTemplate    string `json:"bodyTemplate"    binding:"required"`
	IsHTML          bool   `json:"isHtml"`
}

type idResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// acceptedResponse is returned when a notification was saved but its publish
// failed; the relay publishes it later.
type acceptedResponse struct {
	ID    string        `json:"id"`
	Error errorResponse `json:"error"`
}
