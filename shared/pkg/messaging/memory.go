package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"notification-hub/shared/pkg/metrics"
)

const memoryQueueSize = 1024

// Publication is one message recorded by MemoryPublisher.
type Publication struct {
	Queue string
	Body  []byte
	Delay time.Duration
	Batch bool
}

// MemoryPublisher keeps every publication in memory and delivers them to
// in-process consumers. Used in dev mode and tests.
type MemoryPublisher struct {
	log *zap.Logger

	mu        sync.Mutex
	published []Publication
	queues    map[string]chan []byte
	timers    []*time.Timer
	closed    bool
	failWith  error
}

var (
	_ Publisher = (*MemoryPublisher)(nil)
	_ Consumer  = (*MemoryPublisher)(nil)
)

func NewMemoryPublisher(log *zap.Logger) *MemoryPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryPublisher{log: log, queues: map[string]chan []byte{}}
}

// FailWith makes every following publish return err. nil restores normal behaviour.
func (m *MemoryPublisher) FailWith(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

func (m *MemoryPublisher) Publish(ctx context.Context, msg any, queue string) error {
	return m.publish(ctx, msg, queue, 0, false)
}

func (m *MemoryPublisher) PublishWithDelay(ctx context.Context, msg any, queue string, delay time.Duration) error {
	return m.publish(ctx, msg, queue, max(delay, 0), false)
}

func (m *MemoryPublisher) PublishBatch(ctx context.Context, msgs []any, queue string) error {
	for _, msg := range msgs {
		if err := m.publish(ctx, msg, queue, 0, true); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryPublisher) publish(ctx context.Context, msg any, queue string, delay time.Duration, batch bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encode(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.failWith != nil {
		metrics.PublishFailures.WithLabelValues(queue).Inc()
		return m.failWith
	}
	m.published = append(m.published, Publication{Queue: queue, Body: body, Delay: delay, Batch: batch})

	switch {
	case delay > 0:
		metrics.MessagesPublished.WithLabelValues(queue, metrics.ModeDelayed).Inc()
		ch := m.queueLocked(queue)
		m.timers = append(m.timers, time.AfterFunc(delay, func() { m.offer(ch, queue, body) }))
		return nil
	case batch:
		metrics.MessagesPublished.WithLabelValues(queue, metrics.ModeBatch).Inc()
	default:
		metrics.MessagesPublished.WithLabelValues(queue, metrics.ModeImmediate).Inc()
	}
	select {
	case m.queueLocked(queue) <- body:
		return nil
	default:
		return fmt.Errorf("memory queue %s is full", queue)
	}
}

func (m *MemoryPublisher) offer(ch chan []byte, queue string, body []byte) {
	select {
	case ch <- body:
	default:
		m.log.Warn("memory queue full, dropping delayed message", zap.String("queue", queue))
	}
}

func (m *MemoryPublisher) queueLocked(queue string) chan []byte {
	ch, ok := m.queues[queue]
	if !ok {
		ch = make(chan []byte, memoryQueueSize)
		m.queues[queue] = ch
	}
	return ch
}

// Consume delivers messages of queue to h until ctx is done. Handler errors are
// logged and the message is dropped.
func (m *MemoryPublisher) Consume(ctx context.Context, queue string, h Handler) error {
	m.mu.Lock()
	ch := m.queueLocked(queue)
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case body := <-ch:
			if err := h(ctx, body); err != nil {
				m.log.Warn("memory consumer handler failed", zap.String("queue", queue), zap.Error(err))
			}
		}
	}
}

// Published returns a copy of everything published so far.
func (m *MemoryPublisher) Published() []Publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Publication, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedTo returns the publications for one queue.
func (m *MemoryPublisher) PublishedTo(queue string) []Publication {
	var out []Publication
	for _, p := range m.Published() {
		if p.Queue == queue {
			out = append(out, p)
		}
	}
	return out
}

func (m *MemoryPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
	m.closed = true
	return nil
}
