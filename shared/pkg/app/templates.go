package app

import (
	"context"

	"go.uber.org/zap"

	"notification-hub/shared/pkg/domain"
)

type CreateTemplateCommand struct {
	Name            string
	SubjectTemplate string
	BodyTemplate    string
	Channel         string
	IsHTML          bool
}

type UpdateTemplateCommand struct {
	Name            string
	SubjectTemplate string
	BodyTemplate    string
	IsHTML          bool
}

func (s *Service) CreateTemplate(ctx context.Context, cmd CreateTemplateCommand) (string, error) {
	channel, err := domain.ParseChannel(cmd.Channel)
	if err != nil {
		return "", classify(err, "unsupported channel")
	}
	t, err := domain.NewTemplate(cmd.Name, cmd.SubjectTemplate, cmd.BodyTemplate, channel, cmd.IsHTML)
	if err != nil {
		return "", classify(err, "invalid template")
	}

	uow := s.uow.New()
	exists, err := uow.Templates().ExistsByName(ctx, t.Name())
	if err != nil {
		return "", classify(err, "check template name")
	}
	if exists {
		return "", newError(KindConflict, "template_exists", "template "+t.Name()+" already exists", domain.ErrConflict)
	}
	if err := uow.Templates().Add(ctx, t); err != nil {
		return "", classify(err, "stage template")
	}
	if _, err := uow.SaveChanges(ctx); err != nil {
		return "", classify(err, "save template")
	}
	s.log.Info("template created", zap.String("template_id", t.ID()), zap.String("name", t.Name()))
	return t.ID(), nil
}

func (s *Service) GetTemplate(ctx context.Context, id string) (TemplateView, error) {
	t, err := s.uow.New().Templates().Get(ctx, id)
	if err != nil {
		return TemplateView{}, classify(err, "template not found")
	}
	return templateView(t), nil
}

func (s *Service) ListActiveTemplates(ctx context.Context) ([]TemplateView, error) {
	ts, err := s.uow.New().Templates().GetActive(ctx)
	if err != nil {
		return nil, classify(err, "list templates")
	}
	out := make([]TemplateView, 0, len(ts))
	for _, t := range ts {
		out = append(out, templateView(t))
	}
	return out, nil
}

// UpdateTemplate replaces the text of a template. Renaming onto an existing
// name is a conflict.
func (s *Service) UpdateTemplate(ctx context.Context, id string, cmd UpdateTemplateCommand) error {
	uow := s.uow.New()
	t, err := uow.Templates().Get(ctx, id)
	if err != nil {
		return classify(err, "template not found")
	}
	oldName := t.Name()
	if err := t.Update(cmd.Name, cmd.SubjectTemplate, cmd.BodyTemplate, cmd.IsHTML); err != nil {
		return classify(err, "invalid template")
	}
	if t.Name() != oldName {
		exists, err := uow.Templates().ExistsByName(ctx, t.Name())
		if err != nil {
			return classify(err, "check template name")
		}
		if exists {
			return newError(KindConflict, "template_exists", "template "+t.Name()+" already exists", domain.ErrConflict)
		}
	}
	return s.saveTemplate(ctx, uow, t)
}

func (s *Service) SetTemplateActive(ctx context.Context, id string, active bool) error {
	uow := s.uow.New()
	t, err := uow.Templates().Get(ctx, id)
	if err != nil {
		return classify(err, "template not found")
	}
	if active {
		t.Activate()
	} else {
		t.Deactivate()
	}
	return s.saveTemplate(ctx, uow, t)
}

func (s *Service) saveTemplate(ctx context.Context, uow domain.UnitOfWork, t *domain.Template) error {
	if err := uow.Templates().Update(ctx, t); err != nil {
		return classify(err, "stage template")
	}
	if _, err := uow.SaveChanges(ctx); err != nil {
		return classify(err, "save template")
	}
	return nil
}
