package store

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"notification-hub/shared/pkg/domain"
)

/* -------------------- GORM MODELS -------------------- */

type notificationModel struct {
	ID               string                                `gorm:"primaryKey;type:uuid"`
	RecipientAddress string                                `gorm:"type:varchar(500);not null;index"`
	RecipientName    *string                               `gorm:"type:varchar(200)"`
	Channel          string                                `gorm:"type:varchar(16);not null"` // email|sms|push|webhook|inApp
	Subject          string                                `gorm:"type:varchar(500);not null"`
	Body             string                                `gorm:"type:text;not null"`
	IsHTML           bool                                  `gorm:"not null"`
	Status           string                                `gorm:"type:varchar(16);not null;index"`
	Priority         string                                `gorm:"type:varchar(16);not null"`
	TemplateID       *string                               `gorm:"type:uuid"`
	ScheduledAt      *time.Time                            `gorm:"type:timestamptz;index"`
	SentAt           *time.Time                            `gorm:"type:timestamptz"`
	DeliveredAt      *time.Time                            `gorm:"type:timestamptz"`
	DispatchedAt     *time.Time                            `gorm:"column:last_dispatched_at;type:timestamptz"`
	FailureReason    *string                               `gorm:"type:varchar(2000)"`
	RetryCount       int                                   `gorm:"not null"`
	Metadata         datatypes.JSONType[map[string]string] `gorm:"type:jsonb"`
	CreatedAt        time.Time                             `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt        time.Time                             `gorm:"not null;autoUpdateTime:false"`
}

func (notificationModel) TableName() string { return "notifications" }

type templateModel struct {
	ID                string         `gorm:"primaryKey;type:uuid"`
	Name              string         `gorm:"type:varchar(100);not null;uniqueIndex"`
	SubjectTemplate   string         `gorm:"type:varchar(500);not null"`
	BodyTemplate      string         `gorm:"type:text;not null"`
	Channel           string         `gorm:"type:varchar(16);not null;index"`
	IsHTML            bool           `gorm:"not null"`
	IsActive          bool           `gorm:"not null;index"`
	RequiredVariables pq.StringArray `gorm:"type:text[];not null"`
	CreatedAt         time.Time      `gorm:"not null;autoCreateTime:false"`
	UpdatedAt         time.Time      `gorm:"not null;autoUpdateTime:false"`
}

func (templateModel) TableName() string { return "notification_templates" }

// Migrate creates or updates the tables used by the store.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&notificationModel{}, &templateModel{})
}

/* -------------------- Mapping (domain <-> model) -------------------- */

func toNotificationModel(n *domain.Notification) *notificationModel {
	s := n.Snapshot()
	md := s.Metadata
	if md == nil {
		md = map[string]string{}
	}
	return &notificationModel{
		ID:               s.ID,
		RecipientAddress: s.RecipientAddress,
		RecipientName:    optional(s.RecipientName),
		Channel:          string(s.Channel),
		Subject:          s.Subject,
		Body:             s.Body,
		IsHTML:           s.IsHTML,
		Status:           string(s.Status),
		Priority:         string(s.Priority),
		TemplateID:       optional(s.TemplateID),
		ScheduledAt:      s.ScheduledAt,
		SentAt:           s.SentAt,
		DeliveredAt:      s.DeliveredAt,
		DispatchedAt:     s.DispatchedAt,
		FailureReason:    optional(s.FailureReason),
		RetryCount:       s.RetryCount,
		Metadata:         datatypes.NewJSONType(md),
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func (m *notificationModel) toDomain() *domain.Notification {
	return domain.RestoreNotification(domain.NotificationSnapshot{
		ID:               m.ID,
		Channel:          domain.Channel(m.Channel),
		RecipientAddress: m.RecipientAddress,
		RecipientName:    deref(m.RecipientName),
		Subject:          m.Subject,
		Body:             m.Body,
		IsHTML:           m.IsHTML,
		Status:           domain.Status(m.Status),
		Priority:         domain.Priority(m.Priority),
		TemplateID:       deref(m.TemplateID),
		ScheduledAt:      m.ScheduledAt,
		SentAt:           m.SentAt,
		DeliveredAt:      m.DeliveredAt,
		DispatchedAt:     m.DispatchedAt,
		FailureReason:    deref(m.FailureReason),
		RetryCount:       m.RetryCount,
		Metadata:         m.Metadata.Data(),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	})
}

func toTemplateModel(t *domain.Template) *templateModel {
	s := t.Snapshot()
	vars := s.RequiredVariables
	if vars == nil {
		vars = []string{}
	}
	return &templateModel{
		ID:                s.ID,
		Name:              s.Name,
		SubjectTemplate:   s.SubjectTemplate,
		BodyTemplate:      s.BodyTemplate,
		Channel:           string(s.Channel),
		IsHTML:            s.IsHTML,
		IsActive:          s.IsActive,
		RequiredVariables: pq.StringArray(vars),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func (m *templateModel) toDomain() *domain.Template {
	return domain.RestoreTemplate(domain.TemplateSnapshot{
		ID:                m.ID,
		Name:              m.Name,
		SubjectTemplate:   m.SubjectTemplate,
		BodyTemplate:      m.BodyTemplate,
		Channel:           domain.Channel(m.Channel),
		IsHTML:            m.IsHTML,
		IsActive:          m.IsActive,
		RequiredVariables: []string(m.RequiredVariables),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
