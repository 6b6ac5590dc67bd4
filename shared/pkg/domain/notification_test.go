package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *testing.T, at time.Time) *time.Time {
	t.Helper()
	cur := at
	prev := now
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = prev })
	return &cur
}

func newEmailNotification(t *testing.T, opts ...NotificationOption) *Notification {
	t.Helper()
	r, err := NewRecipient(ChannelEmail, "user@example.com", "User")
	require.NoError(t, err)
	c, err := NewContent("Hello", "Body", false)
	require.NoError(t, err)
	n, err := NewNotification(r, c, opts...)
	require.NoError(t, err)
	return n
}

func inStatus(t *testing.T, s Status) *Notification {
	t.Helper()
	snap := newEmailNotification(t).Snapshot()
	snap.Status = s
	return RestoreNotification(snap)
}

func TestNewNotification(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fixedClock(t, at)

	n := newEmailNotification(t, WithPriority(PriorityHigh), WithTemplate("tpl-1"))

	assert.NotEmpty(t, n.ID())
	assert.Equal(t, StatusPending, n.Status())
	assert.Equal(t, PriorityHigh, n.Priority())
	assert.Equal(t, 0, n.RetryCount())
	assert.Equal(t, "tpl-1", n.TemplateID())
	assert.Equal(t, at, n.CreatedAt())
	assert.False(t, n.ScheduledAt().IsSet())

	events := n.PullEvents()
	require.Len(t, events, 1)
	created, ok := events[0].(NotificationCreated)
	require.True(t, ok)
	assert.Equal(t, n.ID(), created.AggregateID())
	assert.Equal(t, ChannelEmail, created.Channel)
	assert.Empty(t, n.PullEvents())
}

func TestNewNotification_RequiresRecipient(t *testing.T) {
	c, _ := NewContent("", "b", false)
	_, err := NewNotification(Recipient{}, c)
	assert.ErrorIs(t, err, ErrEmptyValue)
}

func TestHappyPath(t *testing.T) {
	clock := fixedClock(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	n := newEmailNotification(t)
	n.PullEvents()

	require.NoError(t, n.MarkProcessing())
	assert.Empty(t, n.PullEvents())

	*clock = clock.Add(time.Second)
	sentAt := *clock
	require.NoError(t, n.MarkSent())

	*clock = clock.Add(time.Second)
	require.NoError(t, n.MarkDelivered())

	assert.Equal(t, StatusDelivered, n.Status())
	got, ok := n.SentAt().Time()
	require.True(t, ok)
	assert.Equal(t, sentAt, got)
	assert.True(t, n.DeliveredAt().IsSet())
	assert.Equal(t, *clock, n.UpdatedAt())

	events := n.PullEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "notification.sent", events[0].EventName())
	assert.Equal(t, "notification.delivered", events[1].EventName())
}

func TestTransitionTotality(t *testing.T) {
	transitions := map[string]func(*Notification) error{
		"process": (*Notification).MarkProcessing,
		"send":    (*Notification).MarkSent,
		"deliver": (*Notification).MarkDelivered,
		"fail":    func(n *Notification) error { return n.MarkFailed("boom") },
		"cancel":  (*Notification).Cancel,
		"retry":   (*Notification).Retry,
	}
	legal := map[string][]Status{
		"process": {StatusPending},
		"send":    {StatusProcessing},
		"deliver": {StatusSent},
		"fail":    {StatusPending, StatusProcessing, StatusSent, StatusFailed},
		"cancel":  {StatusPending, StatusProcessing},
		"retry":   {StatusFailed},
	}

	for name, apply := range transitions {
		for _, from := range Statuses {
			n := inStatus(t, from)
			before := n.Snapshot()
			err := apply(n)

			isLegal := false
			for _, s := range legal[name] {
				if s == from {
					isLegal = true
				}
			}
			if isLegal {
				assert.NoError(t, err, "%s from %s", name, from)
				continue
			}

			require.Error(t, err, "%s from %s", name, from)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, from, te.From)
			assert.Equal(t, before, n.Snapshot(), "%s from %s mutated the aggregate", name, from)
			assert.Empty(t, n.PullEvents())
		}
	}
}

func TestMarkFailedAndRetry(t *testing.T) {
	fixedClock(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	n := newEmailNotification(t)
	n.PullEvents()

	require.NoError(t, n.MarkProcessing())
	require.NoError(t, n.MarkFailed("smtp timeout"))
	assert.Equal(t, "smtp timeout", n.FailureReason())
	assert.True(t, n.CanRetry(3))

	require.NoError(t, n.Retry())
	assert.Equal(t, StatusPending, n.Status())
	assert.Equal(t, 1, n.RetryCount())
	assert.Empty(t, n.FailureReason())

	events := n.PullEvents()
	require.Len(t, events, 2)
	failed := events[0].(NotificationFailed)
	assert.Equal(t, "smtp timeout", failed.Reason)
	retried := events[1].(NotificationRetryScheduled)
	assert.Equal(t, 1, retried.RetryCount)
}

func TestMarkDispatched(t *testing.T) {
	clock := fixedClock(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	n := newEmailNotification(t)
	n.PullEvents()
	assert.False(t, n.LastDispatchedAt().IsSet())

	*clock = clock.Add(time.Minute)
	n.MarkDispatched()
	*clock = clock.Add(time.Minute)
	n.MarkDispatched()
	got, ok := n.LastDispatchedAt().Time()
	require.True(t, ok)
	assert.Equal(t, *clock, got)
	assert.Equal(t, *clock, n.UpdatedAt())
	assert.Equal(t, StatusPending, n.Status())
	assert.Empty(t, n.PullEvents())

	restored := RestoreNotification(n.Snapshot())
	got, ok = restored.LastDispatchedAt().Time()
	require.True(t, ok)
	assert.Equal(t, *clock, got)
}

func TestRetryRecordsDispatch(t *testing.T) {
	clock := fixedClock(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	n := newEmailNotification(t)
	require.NoError(t, n.MarkFailed("bounced"))

	*clock = clock.Add(time.Hour)
	require.NoError(t, n.Retry())
	got, ok := n.LastDispatchedAt().Time()
	require.True(t, ok)
	assert.Equal(t, *clock, got)
}

func TestCanRetryBound(t *testing.T) {
	n := newEmailNotification(t)
	const maxRetries = 2

	for i := 0; i < maxRetries; i++ {
		require.NoError(t, n.MarkFailed("x"))
		require.True(t, n.CanRetry(maxRetries))
		require.NoError(t, n.Retry())
	}
	require.NoError(t, n.MarkFailed("x"))
	assert.False(t, n.CanRetry(maxRetries))
	assert.Equal(t, maxRetries, n.RetryCount())
	assert.False(t, n.CanRetry(0))
}

func TestSentAtSetOnce(t *testing.T) {
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := fixedClock(t, first)
	n := newEmailNotification(t)

	require.NoError(t, n.MarkProcessing())
	require.NoError(t, n.MarkSent())
	require.NoError(t, n.MarkFailed("bounced"))
	require.NoError(t, n.Retry())

	*clock = first.Add(time.Hour)
	require.NoError(t, n.MarkProcessing())
	require.NoError(t, n.MarkSent())

	got, _ := n.SentAt().Time()
	assert.Equal(t, first, got)
}

func TestAddMetadata(t *testing.T) {
	clock := fixedClock(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	n := newEmailNotification(t, WithMetadata(map[string]string{"tenant": "a"}))
	require.NoError(t, n.Cancel())

	*clock = clock.Add(time.Minute)
	n.AddMetadata("note", "cancelled by user")

	md := n.Metadata()
	assert.Equal(t, "a", md["tenant"])
	assert.Equal(t, "cancelled by user", md["note"])
	assert.Equal(t, *clock, n.UpdatedAt())

	md["tenant"] = "mutated"
	assert.Equal(t, "a", n.Metadata()["tenant"])
}

func TestSnapshotRoundTrip(t *testing.T) {
	at := time.Now().Add(time.Hour).UTC()
	n := newEmailNotification(t, WithSchedule(at), WithMetadata(map[string]string{"k": "v"}))

	restored := RestoreNotification(n.Snapshot())
	assert.Equal(t, n.Snapshot(), restored.Snapshot())
	assert.Empty(t, restored.PullEvents())
	assert.True(t, restored.Recipient().Equal(n.Recipient()))
}
