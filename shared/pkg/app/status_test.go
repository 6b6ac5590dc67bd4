package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-hub/shared/pkg/domain"
	"notification-hub/shared/pkg/messaging"
)

func report(id string, status domain.Status) messaging.StatusMessage {
	return messaging.StatusMessage{NotificationID: id, Status: status, Channel: domain.ChannelEmail, Timestamp: clock}
}

func TestApplyStatus_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Send(ctx, emailCommand())
	require.NoError(t, err)

	msg := report(id, domain.StatusSent)
	msg.ExternalID = "ext-1"
	require.NoError(t, f.svc.ApplyStatus(ctx, msg))

	view, err := f.svc.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, view.Status)
	assert.NotNil(t, view.SentAt)
	assert.Equal(t, "ext-1", view.Metadata["externalId"])

	require.NoError(t, f.svc.ApplyStatus(ctx, report(id, domain.StatusDelivered)))
	view, err = f.svc.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, view.Status)
	assert.NotNil(t, view.DeliveredAt)
}

func TestApplyStatus_DeliveredFromPendingWalksForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Send(ctx, emailCommand())
	require.NoError(t, err)

	require.NoError(t, f.svc.ApplyStatus(ctx, report(id, domain.StatusDelivered)))
	view, err := f.svc.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, view.Status)
	assert.NotNil(t, view.SentAt)
}

func TestApplyStatus_DuplicateOrOutOfOrderIsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Send(ctx, emailCommand())
	require.NoError(t, err)
	require.NoError(t, f.svc.ApplyStatus(ctx, report(id, domain.StatusDelivered)))

	for _, st := range []domain.Status{domain.StatusDelivered, domain.StatusProcessing, domain.StatusFailed, domain.StatusCancelled, domain.StatusPending} {
		err := f.svc.ApplyStatus(ctx, report(id, st))
		assert.Equal(t, KindValidation, KindOf(err), st)
	}
	view, err := f.svc.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, view.Status)
}

func TestApplyStatus_UnknownNotificationAndChannelMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.Equal(t, KindNotFound, KindOf(f.svc.ApplyStatus(ctx, report("missing", domain.StatusSent))))

	id, err := f.svc.Send(ctx, emailCommand())
	require.NoError(t, err)
	msg := report(id, domain.StatusSent)
	msg.Channel = domain.ChannelSMS
	assert.Equal(t, KindValidation, KindOf(f.svc.ApplyStatus(ctx, msg)))
}

func TestApplyStatus_RetryableFailureIsRetriedUntilBound(t *testing.T) {
	f := newFixture(t, WithMaxRetries(2))
	ctx := context.Background()
	id, err := f.svc.Send(ctx, emailCommand())
	require.NoError(t, err)

	fail := report(id, domain.StatusFailed)
	fail.ErrorMessage = "smtp 451"
	fail.ErrorCode = "451"
	fail.ShouldRetry = true

	for want := 1; want <= 2; want++ {
		require.NoError(t, f.svc.ApplyStatus(ctx, fail))
		view, err := f.svc.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, view.Status)
		assert.Equal(t, want, view.RetryCount)
	}

	require.NoError(t, f.svc.ApplyStatus(ctx, fail))
	view, err := f.svc.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, view.Status)
	assert.Equal(t, "smtp 451", view.FailureReason)
	assert.Equal(t, "451", view.Metadata["errorCode"])
	assert.Len(t, f.pub.PublishedTo(messaging.QueueEmail), 3)
}

func TestApplyStatus_FailureWithoutReasonGetsDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Send(ctx, emailCommand())
	require.NoError(t, err)

	require.NoError(t, f.svc.ApplyStatus(ctx, report(id, domain.StatusFailed)))
	view, err := f.svc.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, defaultFailureReason, view.FailureReason)
}

func TestStatusHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.svc.StatusHandler(f.pub)
	id, err := f.svc.Send(ctx, emailCommand())
	require.NoError(t, err)

	body, err := json.Marshal(report(id, domain.StatusSent))
	require.NoError(t, err)
	require.NoError(t, h(ctx, body))
	view, err := f.svc.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, view.Status)

	// a duplicate is consumed without error
	require.NoError(t, h(ctx, body))

	unknown, err := json.Marshal(report("missing", domain.StatusSent))
	require.NoError(t, err)
	require.NoError(t, h(ctx, unknown))
	assert.Empty(t, f.pub.PublishedTo(messaging.QueueDeadLetter))

	require.NoError(t, h(ctx, []byte("not json")))
	dls := f.pub.PublishedTo(messaging.QueueDeadLetter)
	require.Len(t, dls, 1)
	var dl messaging.DeadLetter
	require.NoError(t, json.Unmarshal(dls[0].Body, &dl))
	assert.Equal(t, messaging.QueueStatus, dl.Queue)
	assert.Equal(t, "not json", dl.Payload)
}
