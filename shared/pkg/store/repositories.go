package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"notification-hub/shared/pkg/domain"
)

type notificationRepository struct{ u *UnitOfWork }

func (r *notificationRepository) Get(ctx context.Context, id string) (*domain.Notification, error) {
	var m notificationModel
	if err := r.u.conn(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return m.toDomain(), nil
}

func (r *notificationRepository) GetAll(ctx context.Context) ([]*domain.Notification, error) {
	return r.find(r.u.conn(ctx).Order("created_at DESC"))
}

func (r *notificationRepository) Add(_ context.Context, n *domain.Notification) error {
	r.u.stage(stagedOp{kind: opAdd, notification: n})
	return nil
}

func (r *notificationRepository) Update(_ context.Context, n *domain.Notification) error {
	r.u.stage(stagedOp{kind: opUpdate, notification: n})
	return nil
}

func (r *notificationRepository) Delete(_ context.Context, n *domain.Notification) error {
	r.u.stage(stagedOp{kind: opDelete, notification: n})
	return nil
}

func (r *notificationRepository) GetByStatus(ctx context.Context, status domain.Status) ([]*domain.Notification, error) {
	return r.find(r.u.conn(ctx).Where("status = ?", string(status)).Order("created_at DESC"))
}

func (r *notificationRepository) GetPendingScheduledBefore(ctx context.Context, t time.Time) ([]*domain.Notification, error) {
	q := r.u.conn(ctx).
		Where("status = ? AND COALESCE(scheduled_at, created_at) <= ? AND (last_dispatched_at IS NULL OR last_dispatched_at <= ?)",
			string(domain.StatusPending), t, t).
		Order("COALESCE(scheduled_at, created_at)")
	return r.find(q)
}

func (r *notificationRepository) GetByRecipient(ctx context.Context, address string) ([]*domain.Notification, error) {
	return r.find(r.u.conn(ctx).Where("recipient_address = ?", address).Order("created_at DESC"))
}

func (r *notificationRepository) GetFailedForRetry(ctx context.Context, maxRetries int) ([]*domain.Notification, error) {
	q := r.u.conn(ctx).
		Where("status = ? AND retry_count < ?", string(domain.StatusFailed), maxRetries).
		Order("updated_at")
	return r.find(q)
}

func (r *notificationRepository) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	var n int64
	if err := r.u.conn(ctx).Model(&notificationModel{}).Where("status = ?", string(status)).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return n, nil
}

func (r *notificationRepository) find(q *gorm.DB) ([]*domain.Notification, error) {
	var rows []notificationModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	out := make([]*domain.Notification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

type templateRepository struct{ u *UnitOfWork }

func (r *templateRepository) Get(ctx context.Context, id string) (*domain.Template, error) {
	return r.take(ctx, "id = ?", id)
}

func (r *templateRepository) GetByName(ctx context.Context, name string) (*domain.Template, error) {
	return r.take(ctx, "name = ?", name)
}

func (r *templateRepository) take(ctx context.Context, cond string, arg string) (*domain.Template, error) {
	var m templateModel
	if err := r.u.conn(ctx).Where(cond, arg).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("template %s: %w", arg, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return m.toDomain(), nil
}

func (r *templateRepository) GetAll(ctx context.Context) ([]*domain.Template, error) {
	return r.find(r.u.conn(ctx).Order("name"))
}

func (r *templateRepository) Add(_ context.Context, t *domain.Template) error {
	r.u.stage(stagedOp{kind: opAdd, template: t})
	return nil
}

func (r *templateRepository) Update(_ context.Context, t *domain.Template) error {
	r.u.stage(stagedOp{kind: opUpdate, template: t})
	return nil
}

func (r *templateRepository) Delete(_ context.Context, t *domain.Template) error {
	r.u.stage(stagedOp{kind: opDelete, template: t})
	return nil
}

func (r *templateRepository) GetByChannel(ctx context.Context, channel domain.Channel) ([]*domain.Template, error) {
	return r.find(r.u.conn(ctx).Where("channel = ?", string(channel)).Order("name"))
}

func (r *templateRepository) GetActive(ctx context.Context) ([]*domain.Template, error) {
	return r.find(r.u.conn(ctx).Where("is_active = ?", true).Order("name"))
}

func (r *templateRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var n int64
	if err := r.u.conn(ctx).Model(&templateModel{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count templates: %w", err)
	}
	return n > 0, nil
}

func (r *templateRepository) find(q *gorm.DB) ([]*domain.Template, error) {
	var rows []templateModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	out := make([]*domain.Template, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
