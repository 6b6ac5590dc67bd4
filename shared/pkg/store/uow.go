package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"notification-hub/shared/pkg/domain"
)

var ErrNoTransaction = errors.New("no open transaction")

type opKind int

const (
	opAdd opKind = iota
	opUpdate
	opDelete
)

type stagedOp struct {
	kind         opKind
	notification *domain.Notification
	template     *domain.Template
}

// UnitOfWork is the gorm/Postgres implementation of domain.UnitOfWork.
type UnitOfWork struct {
	db      *gorm.DB
	tx      *gorm.DB
	handler domain.EventHandler
	log     *zap.Logger

	staged   []stagedOp
	deferred []domain.Event // events of saves inside an open transaction

	notifications *notificationRepository
	templates     *templateRepository
}

var _ domain.UnitOfWork = (*UnitOfWork)(nil)

func newUnitOfWork(db *gorm.DB, handler domain.EventHandler, log *zap.Logger) *UnitOfWork {
	u := &UnitOfWork{db: db, handler: handler, log: log}
	u.notifications = &notificationRepository{u: u}
	u.templates = &templateRepository{u: u}
	return u
}

func (u *UnitOfWork) Notifications() domain.NotificationRepository { return u.notifications }
func (u *UnitOfWork) Templates() domain.TemplateRepository { return u.templates }

// conn returns the open transaction or the pool, bound to ctx.
func (u *UnitOfWork) conn(ctx context.Context) *gorm.DB {
	if u.tx != nil {
		return u.tx.WithContext(ctx)
	}
	return u.db.WithContext(ctx)
}

func (u *UnitOfWork) stage(op stagedOp) {
	for _, s := range u.staged {
		if (op.notification != nil && s.notification == op.notification) ||
			(op.template != nil && s.template == op.template) {
			if op.kind == opDelete {
				break
			}
			// already staged; the snapshot is taken at save time
			return
		}
	}
	u.staged = append(u.staged, op)
}

// SaveChanges writes every staged change in one transaction (or inside the open
// one) and returns how many aggregates were written.
func (u *UnitOfWork) SaveChanges(ctx context.Context) (int, error) {
	if len(u.staged) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	apply := func(tx *gorm.DB) error {
		for _, op := range u.staged {
			if err := applyOp(tx, op); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if u.tx != nil {
		err = apply(u.tx.WithContext(ctx))
	} else {
		err = u.db.WithContext(ctx).Transaction(apply)
	}
	if err != nil {
		return 0, translate(err)
	}

	n := len(u.staged)
	events := u.drainEvents()
	u.staged = nil

	if u.tx != nil {
		u.deferred = append(u.deferred, events...)
		return n, nil
	}
	u.publish(ctx, events)
	return n, nil
}

func applyOp(tx *gorm.DB, op stagedOp) error {
	switch {
	case op.notification != nil:
		m := toNotificationModel(op.notification)
		switch op.kind {
		case opAdd:
			return tx.Create(m).Error
		case opUpdate:
			return tx.Save(m).Error
		default:
			return tx.Delete(&notificationModel{ID: m.ID}).Error
		}
	case op.template != nil:
		m := toTemplateModel(op.template)
		switch op.kind {
		case opAdd:
			return tx.Create(m).Error
		case opUpdate:
			return tx.Save(m).Error
		default:
			return tx.Delete(&templateModel{ID: m.ID}).Error
		}
	}
	return nil
}

func (u *UnitOfWork) drainEvents() []domain.Event {
	var events []domain.Event
	for _, op := range u.staged {
		if op.notification != nil {
			events = append(events, op.notification.PullEvents()...)
		}
	}
	return events
}

func (u *UnitOfWork) publish(ctx context.Context, events []domain.Event) {
	if u.handler == nil || len(events) == 0 {
		return
	}
	if err := u.handler.Handle(ctx, events); err != nil {
		u.log.Warn("domain event handler failed", zap.Int("events", len(events)), zap.Error(err))
	}
}

func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return errors.New("transaction already open")
	}
	tx := u.db.WithContext(ctx).Begin(&sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if tx.Error != nil {
		return fmt.Errorf("begin: %w", tx.Error)
	}
	u.tx = tx
	return nil
}

// Commit commits the open transaction and then hands over the events of the
// saves made inside it.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return ErrNoTransaction
	}
	err := u.tx.Commit().Error
	u.tx = nil
	events := u.deferred
	u.deferred = nil
	if err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	u.publish(ctx, events)
	return nil
}

func (u *UnitOfWork) Rollback(context.Context) error {
	if u.tx == nil {
		return ErrNoTransaction
	}
	err := u.tx.Rollback().Error
	u.tx = nil
	u.deferred = nil
	u.staged = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	}
	return err
}

// Factory hands out one UnitOfWork per logical operation.
type Factory struct {
	db      *gorm.DB
	handler domain.EventHandler
	log     *zap.Logger
}

var _ domain.UnitOfWorkFactory = (*Factory)(nil)

func NewFactory(db *gorm.DB, handler domain.EventHandler, log *zap.Logger) *Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Factory{db: db, handler: handler, log: log}
}

func (f *Factory) New() domain.UnitOfWork {
	return newUnitOfWork(f.db, f.handler, f.log)
}
