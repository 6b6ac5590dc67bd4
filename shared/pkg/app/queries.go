package app

import (
	"context"

	"notification-hub/shared/pkg/domain"
)

func (s *Service) GetByID(ctx context.Context, id string) (NotificationView, error) {
	n, err := s.uow.New().Notifications().Get(ctx, id)
	if err != nil {
		return NotificationView{}, classify(err, "notification not found")
	}
	return notificationView(n), nil
}

func (s *Service) GetByStatus(ctx context.Context, status string) ([]NotificationView, error) {
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, classify(err, "invalid status")
	}
	ns, err := s.uow.New().Notifications().GetByStatus(ctx, st)
	if err != nil {
		return nil, classify(err, "list notifications")
	}
	return notificationViews(ns), nil
}

// GetByRecipient lists notifications sent to address, matched in the same
// normalized form Send stores it in.
func (s *Service) GetByRecipient(ctx context.Context, address string) ([]NotificationView, error) {
	ns, err := s.uow.New().Notifications().GetByRecipient(ctx, domain.NormalizeAddress(address))
	if err != nil {
		return nil, classify(err, "list notifications")
	}
	return notificationViews(ns), nil
}

// GetFailedForRetry lists Failed notifications still under the retry bound.
func (s *Service) GetFailedForRetry(ctx context.Context) ([]NotificationView, error) {
	ns, err := s.uow.New().Notifications().GetFailedForRetry(ctx, s.maxRetries)
	if err != nil {
		return nil, classify(err, "list notifications")
	}
	return notificationViews(ns), nil
}

func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	repo := s.uow.New().Notifications()
	var stats Stats
	for _, st := range domain.Statuses {
		n, err := repo.CountByStatus(ctx, st)
		if err != nil {
			return Stats{}, classify(err, "count notifications")
		}
		stats.set(st, n)
	}
	return stats, nil
}
