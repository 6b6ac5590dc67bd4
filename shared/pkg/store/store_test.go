package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"notification-hub/shared/pkg/db"
	"notification-hub/shared/pkg/domain"
)

type captureHandler struct{ events []domain.Event }

func (c *captureHandler) Handle(_ context.Context, events []domain.Event) error {
	c.events = append(c.events, events...)
	return nil
}

func setupMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), db.Config())
	require.NoError(t, err)
	return gdb, mock
}

func newNotification(t *testing.T) *domain.Notification {
	t.Helper()
	r, err := domain.NewRecipient(domain.ChannelEmail, "user@example.com", "User")
	require.NoError(t, err)
	c, err := domain.NewContent("Hi", "Body", false)
	require.NoError(t, err)
	n, err := domain.NewNotification(r, c, domain.WithMetadata(map[string]string{"tenant": "t1"}))
	require.NoError(t, err)
	return n
}

func TestSaveChanges_InsertsInTransactionAndPublishesEvents(t *testing.T) {
	gdb, mock := setupMock(t)
	handler := &captureHandler{}
	uow := NewFactory(gdb, handler, zap.NewNop()).New()
	n := newNotification(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "notifications"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, uow.Notifications().Add(context.Background(), n))
	saved, err := uow.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	require.Len(t, handler.events, 1)
	assert.Equal(t, "notification.created", handler.events[0].EventName())
	assert.Empty(t, n.PullEvents())
	assert.NoError(t, mock.ExpectationsWereMet())

	saved, err = uow.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Zero(t, saved)
}

func TestSaveChanges_UpdateAndDeleteAreAtomic(t *testing.T) {
	gdb, mock := setupMock(t)
	uow := NewFactory(gdb, nil, nil).New()
	keep, gone := newNotification(t), newNotification(t)
	require.NoError(t, keep.Cancel())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "notifications" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "notifications"`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	ctx := context.Background()
	require.NoError(t, uow.Notifications().Update(ctx, keep))
	require.NoError(t, uow.Notifications().Delete(ctx, gone))
	_, err := uow.SaveChanges(ctx)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveChanges_CancelledContextAbortsBeforeCommit(t *testing.T) {
	gdb, mock := setupMock(t)
	uow := NewFactory(gdb, nil, nil).New()
	require.NoError(t, uow.Notifications().Add(context.Background(), newNotification(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := uow.SaveChanges(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExplicitTransaction_EventsAfterCommit(t *testing.T) {
	gdb, mock := setupMock(t)
	handler := &captureHandler{}
	uow := NewFactory(gdb, handler, nil).New()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "notifications"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, uow.Begin(ctx))
	require.NoError(t, uow.Notifications().Add(ctx, newNotification(t)))
	_, err := uow.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, handler.events)

	require.NoError(t, uow.Commit(ctx))
	assert.Len(t, handler.events, 1)
	assert.ErrorIs(t, uow.Commit(ctx), ErrNoTransaction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExplicitTransaction_RollbackDropsEvents(t *testing.T) {
	gdb, mock := setupMock(t)
	handler := &captureHandler{}
	uow := NewFactory(gdb, handler, nil).New()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "notifications"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	require.NoError(t, uow.Begin(ctx))
	require.NoError(t, uow.Notifications().Add(ctx, newNotification(t)))
	_, err := uow.SaveChanges(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Rollback(ctx))
	assert.Empty(t, handler.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_GetNotFound(t *testing.T) {
	gdb, mock := setupMock(t)
	uow := NewFactory(gdb, nil, nil).New()

	mock.ExpectQuery(`SELECT \* FROM "notifications" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := uow.Notifications().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_GetRestoresAggregate(t *testing.T) {
	gdb, mock := setupMock(t)
	uow := NewFactory(gdb, nil, nil).New()
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	sent := created.Add(time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "recipient_address", "recipient_name", "channel", "subject", "body", "is_html",
		"status", "priority", "template_id", "scheduled_at", "sent_at", "delivered_at",
		"failure_reason", "retry_count", "metadata", "created_at", "updated_at",
	}).AddRow(
		"0b7f4b2e-55b2-4a55-9c39-7e3e0b7c2a11", "+15551234567", nil, "sms", "", "code 1", false,
		"sent", "high", nil, nil, sent, nil,
		nil, 1, []byte(`{"tenant":"t1"}`), created, sent,
	)
	mock.ExpectQuery(`SELECT \* FROM "notifications" WHERE id = \$1`).WillReturnRows(rows)

	n, err := uow.Notifications().Get(context.Background(), "0b7f4b2e-55b2-4a55-9c39-7e3e0b7c2a11")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, n.Status())
	assert.Equal(t, domain.ChannelSMS, n.Channel())
	assert.Equal(t, domain.PriorityHigh, n.Priority())
	assert.Equal(t, 1, n.RetryCount())
	assert.Equal(t, "t1", n.Metadata()["tenant"])
	got, ok := n.SentAt().Time()
	require.True(t, ok)
	assert.True(t, sent.Equal(got))
	assert.False(t, n.DeliveredAt().IsSet())

	// a restored Sent notification can still be delivered
	require.NoError(t, n.MarkDelivered())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_CountByStatus(t *testing.T) {
	gdb, mock := setupMock(t)
	uow := NewFactory(gdb, nil, nil).New()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "notifications" WHERE status = \$1`).
		WithArgs("failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := uow.Notifications().CountByStatus(context.Background(), domain.StatusFailed)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_PendingScheduledBefore(t *testing.T) {
	gdb, mock := setupMock(t)
	uow := NewFactory(gdb, nil, nil).New()
	before := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM "notifications" WHERE status = \$1 AND COALESCE\(scheduled_at, created_at\) <= \$2 AND \(last_dispatched_at IS NULL OR last_dispatched_at <= \$3\) ORDER BY COALESCE\(scheduled_at, created_at\)`).
		WithArgs("pending", before, before).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("a", "pending").AddRow("b", "pending"))

	got, err := uow.Notifications().GetPendingScheduledBefore(context.Background(), before)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_DuplicateNameIsConflict(t *testing.T) {
	gdb, mock := setupMock(t)
	uow := NewFactory(gdb, nil, nil).New()
	tpl, err := domain.NewTemplate("welcome", "Hi {{name}}", "Body {{name}}", domain.ChannelEmail, false)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "notification_templates"`).WillReturnError(gorm.ErrDuplicatedKey)
	mock.ExpectRollback()

	require.NoError(t, uow.Templates().Add(context.Background(), tpl))
	_, err = uow.SaveChanges(context.Background())
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_ExistsByNameAndGetActive(t *testing.T) {
	gdb, mock := setupMock(t)
	uow := NewFactory(gdb, nil, nil).New()
	ctx := context.Background()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "notification_templates" WHERE name = \$1`).
		WithArgs("welcome").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM "notification_templates" WHERE is_active = \$1 ORDER BY name`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "channel", "is_active", "required_variables"}).
			AddRow("t-1", "welcome", "email", true, "{name,code}"))

	exists, err := uow.Templates().ExistsByName(ctx, "welcome")
	require.NoError(t, err)
	assert.True(t, exists)

	active, err := uow.Templates().GetActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"name", "code"}, active[0].RequiredVariables())
	assert.NoError(t, mock.ExpectationsWereMet())
}
