// Package memstore is an in-memory domain.UnitOfWork used in dev mode and tests.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"notification-hub/shared/pkg/domain"
)

var ErrNoTransaction = errors.New("no open transaction")

// Store holds committed state shared by every UnitOfWork it creates. It stores
// snapshots, so aggregates are never shared between units of work.
type Store struct {
	mu            sync.RWMutex
	notifications map[string]domain.NotificationSnapshot
	templates     map[string]domain.TemplateSnapshot
	handler       domain.EventHandler
	log           *zap.Logger
}

var _ domain.UnitOfWorkFactory = (*Store)(nil)

func New(handler domain.EventHandler, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		log:           log,
		notifications: map[string]domain.NotificationSnapshot{},
		templates:     map[string]domain.TemplateSnapshot{},
		handler:       handler,
	}
}

func (s *Store) New() domain.UnitOfWork {
	u := &UnitOfWork{store: s}
	u.notifications = &notificationRepository{u: u}
	u.templates = &templateRepository{u: u}
	return u
}

type opKind int

const (
	opAdd opKind = iota
	opUpdate
	opDelete
)

type op struct {
	kind         opKind
	notification *domain.Notification
	template     *domain.Template
}

// UnitOfWork stages changes until SaveChanges (or Commit inside Begin).
type UnitOfWork struct {
	store *Store

	staged   []op
	inTx     bool
	txOps    []write
	deferred []domain.Event

	notifications *notificationRepository
	templates     *templateRepository
}

// write is a staged op with the snapshot taken at save time.
type write struct {
	kind         opKind
	notification *domain.NotificationSnapshot
	template     *domain.TemplateSnapshot
}

func (u *UnitOfWork) Notifications() domain.NotificationRepository { return u.notifications }
func (u *UnitOfWork) Templates() domain.TemplateRepository { return u.templates }

func (u *UnitOfWork) stage(o op) {
	for _, s := range u.staged {
		if (o.notification != nil && s.notification == o.notification) ||
			(o.template != nil && s.template == o.template) {
			if o.kind == opDelete {
				break
			}
			return
		}
	}
	u.staged = append(u.staged, o)
}

func (u *UnitOfWork) SaveChanges(ctx context.Context) (int, error) {
	if len(u.staged) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	writes := make([]write, 0, len(u.staged))
	for _, o := range u.staged {
		w := write{kind: o.kind}
		if o.notification != nil {
			snap := o.notification.Snapshot()
			w.notification = &snap
		} else {
			snap := o.template.Snapshot()
			w.template = &snap
		}
		writes = append(writes, w)
	}

	if u.inTx {
		if err := u.store.check(append(slices.Clone(u.txOps), writes...)); err != nil {
			return 0, err
		}
		u.txOps = append(u.txOps, writes...)
		u.deferred = append(u.deferred, u.drainEvents()...)
		n := len(u.staged)
		u.staged = nil
		return n, nil
	}

	if err := u.store.apply(writes); err != nil {
		return 0, err
	}
	events := u.drainEvents()
	n := len(u.staged)
	u.staged = nil
	u.store.publish(ctx, events)
	return n, nil
}

func (u *UnitOfWork) drainEvents() []domain.Event {
	var events []domain.Event
	for _, o := range u.staged {
		if o.notification != nil {
			events = append(events, o.notification.PullEvents()...)
		}
	}
	return events
}

func (u *UnitOfWork) Begin(context.Context) error {
	if u.inTx {
		return errors.New("transaction already open")
	}
	u.inTx = true
	return nil
}

func (u *UnitOfWork) Commit(ctx context.Context) error {
	if !u.inTx {
		return ErrNoTransaction
	}
	writes, events := u.txOps, u.deferred
	u.inTx, u.txOps, u.deferred = false, nil, nil
	if err := u.store.apply(writes); err != nil {
		return err
	}
	u.store.publish(ctx, events)
	return nil
}

func (u *UnitOfWork) Rollback(context.Context) error {
	if !u.inTx {
		return ErrNoTransaction
	}
	u.inTx, u.txOps, u.deferred, u.staged = false, nil, nil, nil
	return nil
}

// notificationSnapshots is the committed state with the writes saved inside an
// open transaction applied on top, so a transaction reads its own writes.
func (u *UnitOfWork) notificationSnapshots() map[string]domain.NotificationSnapshot {
	s := u.store
	s.mu.RLock()
	out := maps.Clone(s.notifications)
	s.mu.RUnlock()
	for _, w := range u.txOps {
		switch {
		case w.notification == nil:
		case w.kind == opDelete:
			delete(out, w.notification.ID)
		default:
			out[w.notification.ID] = *w.notification
		}
	}
	return out
}

func (u *UnitOfWork) templateSnapshots() map[string]domain.TemplateSnapshot {
	s := u.store
	s.mu.RLock()
	out := maps.Clone(s.templates)
	s.mu.RUnlock()
	for _, w := range u.txOps {
		switch {
		case w.template == nil:
		case w.kind == opDelete:
			delete(out, w.template.ID)
		default:
			out[w.template.ID] = *w.template
		}
	}
	return out
}

func (s *Store) publish(ctx context.Context, events []domain.Event) {
	if s.handler == nil || len(events) == 0 {
		return
	}
	if err := s.handler.Handle(ctx, events); err != nil {
		s.log.Warn("domain event handler failed", zap.Int("events", len(events)), zap.Error(err))
	}
}

// apply validates and writes all-or-nothing.
func (s *Store) apply(writes []write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(writes); err != nil {
		return err
	}
	for _, w := range writes {
		switch {
		case w.notification != nil && w.kind == opDelete:
			delete(s.notifications, w.notification.ID)
		case w.notification != nil:
			s.notifications[w.notification.ID] = *w.notification
		case w.kind == opDelete:
			delete(s.templates, w.template.ID)
		default:
			s.templates[w.template.ID] = *w.template
		}
	}
	return nil
}

func (s *Store) check(writes []write) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkLocked(writes)
}

// checkLocked enforces unique template names and primary keys.
func (s *Store) checkLocked(writes []write) error {
	names := map[string]string{}
	for id, t := range s.templates {
		names[t.Name] = id
	}
	added := map[string]bool{}
	for _, w := range writes {
		if w.kind == opAdd {
			id := ""
			if w.notification != nil {
				id = w.notification.ID
				if _, exists := s.notifications[id]; exists || added[id] {
					return fmt.Errorf("%w: notification %s already exists", domain.ErrConflict, id)
				}
			} else {
				id = w.template.ID
				if _, exists := s.templates[id]; exists || added[id] {
					return fmt.Errorf("%w: template %s already exists", domain.ErrConflict, id)
				}
			}
			added[id] = true
		}
		if w.template == nil {
			continue
		}
		if w.kind == opDelete {
			delete(names, w.template.Name)
			continue
		}
		if owner, ok := names[w.template.Name]; ok && owner != w.template.ID {
			return fmt.Errorf("%w: template name %q is taken", domain.ErrConflict, w.template.Name)
		}
		names[w.template.Name] = w.template.ID
	}
	return nil
}

type notificationRepository struct{ u *UnitOfWork }

func (r *notificationRepository) Get(_ context.Context, id string) (*domain.Notification, error) {
	snap, ok := r.u.notificationSnapshots()[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	return domain.RestoreNotification(snap), nil
}

func (r *notificationRepository) Add(_ context.Context, n *domain.Notification) error {
	r.u.stage(op{kind: opAdd, notification: n})
	return nil
}

func (r *notificationRepository) Update(_ context.Context, n *domain.Notification) error {
	r.u.stage(op{kind: opUpdate, notification: n})
	return nil
}

func (r *notificationRepository) Delete(_ context.Context, n *domain.Notification) error {
	r.u.stage(op{kind: opDelete, notification: n})
	return nil
}

func (r *notificationRepository) GetAll(context.Context) ([]*domain.Notification, error) {
	return r.filter(func(domain.NotificationSnapshot) bool { return true }, newestFirst), nil
}

func (r *notificationRepository) GetByStatus(_ context.Context, status domain.Status) ([]*domain.Notification, error) {
	return r.filter(func(s domain.NotificationSnapshot) bool { return s.Status == status }, newestFirst), nil
}

func (r *notificationRepository) GetPendingScheduledBefore(_ context.Context, t time.Time) ([]*domain.Notification, error) {
	return r.filter(func(s domain.NotificationSnapshot) bool {
		return s.Status == domain.StatusPending && !dueAt(s).After(t) &&
			(s.DispatchedAt == nil || !s.DispatchedAt.After(t))
	}, func(a, b domain.NotificationSnapshot) bool { return dueAt(a).Before(dueAt(b)) }), nil
}

func (r *notificationRepository) GetByRecipient(_ context.Context, address string) ([]*domain.Notification, error) {
	return r.filter(func(s domain.NotificationSnapshot) bool { return s.RecipientAddress == address }, newestFirst), nil
}

func (r *notificationRepository) GetFailedForRetry(_ context.Context, maxRetries int) ([]*domain.Notification, error) {
	return r.filter(func(s domain.NotificationSnapshot) bool {
		return s.Status == domain.StatusFailed && s.RetryCount < maxRetries
	}, func(a, b domain.NotificationSnapshot) bool { return a.UpdatedAt.Before(b.UpdatedAt) }), nil
}

func (r *notificationRepository) CountByStatus(_ context.Context, status domain.Status) (int64, error) {
	var n int64
	for _, snap := range r.u.notificationSnapshots() {
		if snap.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *notificationRepository) filter(keep func(domain.NotificationSnapshot) bool, less func(a, b domain.NotificationSnapshot) bool) []*domain.Notification {
	var snaps []domain.NotificationSnapshot
	for _, snap := range r.u.notificationSnapshots() {
		if keep(snap) {
			snaps = append(snaps, snap)
		}
	}

	sort.SliceStable(snaps, func(i, j int) bool { return less(snaps[i], snaps[j]) })
	out := make([]*domain.Notification, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, domain.RestoreNotification(snap))
	}
	return out
}

func newestFirst(a, b domain.NotificationSnapshot) bool { return a.CreatedAt.After(b.CreatedAt) }

func dueAt(s domain.NotificationSnapshot) time.Time {
	if s.ScheduledAt != nil {
		return *s.ScheduledAt
	}
	return s.CreatedAt
}

type templateRepository struct{ u *UnitOfWork }

func (r *templateRepository) Get(_ context.Context, id string) (*domain.Template, error) {
	snap, ok := r.u.templateSnapshots()[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	return domain.RestoreTemplate(snap), nil
}

func (r *templateRepository) GetByName(_ context.Context, name string) (*domain.Template, error) {
	found := r.filter(func(t domain.TemplateSnapshot) bool { return t.Name == name })
	if len(found) == 0 {
		return nil, fmt.Errorf("template %s: %w", name, domain.ErrNotFound)
	}
	return found[0], nil
}

func (r *templateRepository) Add(_ context.Context, t *domain.Template) error {
	r.u.stage(op{kind: opAdd, template: t})
	return nil
}

func (r *templateRepository) Update(_ context.Context, t *domain.Template) error {
	r.u.stage(op{kind: opUpdate, template: t})
	return nil
}

func (r *templateRepository) Delete(_ context.Context, t *domain.Template) error {
	r.u.stage(op{kind: opDelete, template: t})
	return nil
}

func (r *templateRepository) GetAll(context.Context) ([]*domain.Template, error) {
	return r.filter(func(domain.TemplateSnapshot) bool { return true }), nil
}

func (r *templateRepository) GetByChannel(_ context.Context, channel domain.Channel) ([]*domain.Template, error) {
	return r.filter(func(t domain.TemplateSnapshot) bool { return t.Channel == channel }), nil
}

func (r *templateRepository) GetActive(context.Context) ([]*domain.Template, error) {
	return r.filter(func(t domain.TemplateSnapshot) bool { return t.IsActive }), nil
}

func (r *templateRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	_, err := r.GetByName(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// filter returns matching templates ordered by name.
func (r *templateRepository) filter(keep func(domain.TemplateSnapshot) bool) []*domain.Template {
	var snaps []domain.TemplateSnapshot
	for _, snap := range r.u.templateSnapshots() {
		if keep(snap) {
			snaps = append(snaps, snap)
		}
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	out := make([]*domain.Template, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, domain.RestoreTemplate(snap))
	}
	return out
}
