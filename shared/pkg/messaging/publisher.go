package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"notification-hub/shared/pkg/domain"
)

var (
	ErrClosed           = errors.New("publisher closed")
	ErrDelayUnsupported = errors.New("delayed publish not configured")
)

// Publisher hands JSON-serializable messages to a named queue.
type Publisher interface {
	Publish(ctx context.Context, msg any, queue string) error
	PublishWithDelay(ctx context.Context, msg any, queue string, delay time.Duration) error
	PublishBatch(ctx context.Context, msgs []any, queue string) error
	Close() error
}

// Handler processes one raw message body. A nil return acknowledges the message.
type Handler func(ctx context.Context, body []byte) error

// Consumer feeds messages of one queue to a Handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, queue string, h Handler) error
	Close() error
}

// Dispatch publishes msg immediately, or with a delay when scheduledAt lies after now.
func Dispatch(ctx context.Context, p Publisher, msg any, queue string, scheduledAt domain.Instant, now time.Time) error {
	if at, ok := scheduledAt.Time(); ok && at.After(now) {
		return p.PublishWithDelay(ctx, msg, queue, at.Sub(now))
	}
	return p.Publish(ctx, msg, queue)
}

// keyed messages are partitioned by their key where the broker supports it.
type keyed interface {
	MessageKey() string
}

func (m SendNotificationMessage) MessageKey() string { return m.NotificationID }
func (m StatusMessage) MessageKey() string { return m.NotificationID }

// keyedBody is an already encoded message published under key.
type keyedBody struct {
	key  string
	body json.RawMessage
}

func (k keyedBody) MessageKey() string { return k.key }

func messageKey(msg any) string {
	if k, ok := msg.(keyed); ok {
		return k.MessageKey()
	}
	return ""
}

func encode(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case keyedBody:
		return v.body, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}

// TemporaryError marks a failure worth retrying (broker unavailable, timeout).
type TemporaryError struct{ error }

func (e *TemporaryError) Unwrap() error { return e.error }

// Temporary wraps err as a TemporaryError. A nil err stays nil.
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{err}
}

func IsRetryable(err error) bool {
	var te *TemporaryError
	return errors.As(err, &te)
}

// Backoff returns 1, 2, 4 ... seconds for attempt 0, 1, 2 ..., capped at five
// minutes, plus 100-500ms of jitter.
func Backoff(attempt int) time.Duration {
	sec := 300
	if attempt < 9 {
		sec = min(1<<max(attempt, 0), 300)
	}
	jitter := time.Duration(100+rand.IntN(401)) * time.Millisecond
	return time.Duration(sec)*time.Second + jitter
}
