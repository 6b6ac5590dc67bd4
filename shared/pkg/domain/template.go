package domain

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxTemplateNameLen    = 100
	maxTemplateSubjectLen = 500
)

// Template is a reusable subject/body pair with {{name}} placeholders.
type Template struct {
	id                string
	name              string
	subjectTemplate   string
	bodyTemplate      string
	channel           Channel
	isHTML            bool
	isActive          bool
	requiredVariables []string
	createdAt         time.Time
	updatedAt         time.Time
}

// NewTemplate validates the input and returns an active template.
func NewTemplate(name, subject, body string, channel Channel, isHTML bool) (*Template, error) {
	if !channel.Valid() {
		return nil, fieldErr("channel", ErrUnsupportedChannel)
	}
	name, subject, body, err := validateTemplateText(name, subject, body)
	if err != nil {
		return nil, err
	}
	t := now()
	return &Template{
		id:                uuid.NewString(),
		name:              name,
		subjectTemplate:   subject,
		bodyTemplate:      body,
		channel:           channel,
		isHTML:            isHTML,
		isActive:          true,
		requiredVariables: ExtractVariables(subject + body),
		createdAt:         t,
		updatedAt:         t,
	}, nil
}

// Update replaces name and text and recomputes the required variables.
// On error the template is unchanged.
func (t *Template) Update(name, subject, body string, isHTML bool) error {
	name, subject, body, err := validateTemplateText(name, subject, body)
	if err != nil {
		return err
	}
	t.name = name
	t.subjectTemplate = subject
	t.bodyTemplate = body
	t.isHTML = isHTML
	t.requiredVariables = ExtractVariables(subject + body)
	t.updatedAt = now()
	return nil
}

func (t *Template) Activate() {
	t.isActive = true
	t.updatedAt = now()
}

func (t *Template) Deactivate() {
	t.isActive = false
	t.updatedAt = now()
}

func (t *Template) ID() string { return t.id }
func (t *Template) Name() string { return t.name }
func (t *Template) SubjectTemplate() string { return t.subjectTemplate }
func (t *Template) BodyTemplate() string { return t.bodyTemplate }
func (t *Template) Channel() Channel { return t.channel }
func (t *Template) IsHTML() bool { return t.isHTML }
func (t *Template) IsActive() bool { return t.isActive }
func (t *Template) RequiredVariables() []string { return slices.Clone(t.requiredVariables) }
func (t *Template) CreatedAt() time.Time { return t.createdAt }
func (t *Template) UpdatedAt() time.Time { return t.updatedAt }

func (t *Template) RenderSubject(bindings map[string]string) string {
	return Render(t.subjectTemplate, bindings)
}

func (t *Template) RenderBody(bindings map[string]string) string {
	return Render(t.bodyTemplate, bindings)
}

// Render returns the rendered subject and body.
func (t *Template) Render(bindings map[string]string) (subject, body string) {
	return t.RenderSubject(bindings), t.RenderBody(bindings)
}

// ValidateVariables returns a *MissingVariablesError if a required name has no binding.
func (t *Template) ValidateVariables(bindings map[string]string) error {
	if missing := MissingVariables(t.requiredVariables, bindings); len(missing) > 0 {
		return &MissingVariablesError{Missing: missing}
	}
	return nil
}

func validateTemplateText(name, subject, body string) (string, string, string, error) {
	name = strings.TrimSpace(name)
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	switch {
	case name == "":
		return "", "", "", fieldErr("name", ErrEmptyValue)
	case utf8.RuneCountInString(name) > maxTemplateNameLen:
		return "", "", "", fieldErr("name", ErrTooLong)
	case utf8.RuneCountInString(subject) > maxTemplateSubjectLen:
		return "", "", "", fieldErr("subjectTemplate", ErrTooLong)
	case body == "":
		return "", "", "", fieldErr("bodyTemplate", ErrEmptyValue)
	}
	return name, subject, body, nil
}

// TemplateSnapshot is the flat persisted form of a Template.
type TemplateSnapshot struct {
	ID                string
	Name              string
	SubjectTemplate   string
	BodyTemplate      string
	Channel           Channel
	IsHTML            bool
	IsActive          bool
	RequiredVariables []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (t *Template) Snapshot() TemplateSnapshot {
	return TemplateSnapshot{
		ID:                t.id,
		Name:              t.name,
		SubjectTemplate:   t.subjectTemplate,
		BodyTemplate:      t.bodyTemplate,
		Channel:           t.channel,
		IsHTML:            t.isHTML,
		IsActive:          t.isActive,
		RequiredVariables: slices.Clone(t.requiredVariables),
		CreatedAt:         t.createdAt,
		UpdatedAt:         t.updatedAt,
	}
}

func RestoreTemplate(s TemplateSnapshot) *Template {
	return &Template{
		id:                s.ID,
		name:              s.Name,
		subjectTemplate:   s.SubjectTemplate,
		bodyTemplate:      s.BodyTemplate,
		channel:           s.Channel,
		isHTML:            s.IsHTML,
		isActive:          s.IsActive,
		requiredVariables: slices.Clone(s.RequiredVariables),
		createdAt:         s.CreatedAt,
		updatedAt:         s.UpdatedAt,
	}
}
