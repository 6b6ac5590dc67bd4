package domain

import (
	"context"
	"time"
)

// NotificationRepository reads notifications directly and stages writes in the
// owning UnitOfWork. Get returns ErrNotFound for an unknown id.
type NotificationRepository interface {
	Get(ctx context.Context, id string) (*Notification, error)
	GetAll(ctx context.Context) ([]*Notification, error)
	Add(ctx context.Context, n *Notification) error
	Update(ctx context.Context, n *Notification) error
	Delete(ctx context.Context, n *Notification) error

	GetByStatus(ctx context.Context, status Status) ([]*Notification, error)
	// GetPendingScheduledBefore returns Pending notifications whose scheduledAt (createdAt
	// when unscheduled) is at or before t and that were not dispatched again after t,
	// oldest first.
	GetPendingScheduledBefore(ctx context.Context, t time.Time) ([]*Notification, error)
	GetByRecipient(ctx context.Context, address string) ([]*Notification, error)
	GetFailedForRetry(ctx context.Context, maxRetries int) ([]*Notification, error)
	CountByStatus(ctx context.Context, status Status) (int64, error)
}

type TemplateRepository interface {
	Get(ctx context.Context, id string) (*Template, error)
	GetAll(ctx context.Context) ([]*Template, error)
	Add(ctx context.Context, t *Template) error
	Update(ctx context.Context, t *Template) error
	Delete(ctx context.Context, t *Template) error

	GetByName(ctx context.Context, name string) (*Template, error)
	GetByChannel(ctx context.Context, channel Channel) ([]*Template, error)
	GetActive(ctx context.Context) ([]*Template, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
}

// UnitOfWork groups staged changes of one logical operation. SaveChanges commits
// them atomically and reports how many aggregates were written; after a successful
// commit the events of staged notifications are drained and handed to the
// configured EventHandler. A UnitOfWork is not safe for concurrent use.
type UnitOfWork interface {
	Notifications() NotificationRepository
	Templates() TemplateRepository
	SaveChanges(ctx context.Context) (int, error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type UnitOfWorkFactory interface {
	New() UnitOfWork
}
