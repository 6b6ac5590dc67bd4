package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"notification-hub/shared/pkg/metrics"
)

const handlerAttempts = 5

// NewKafkaProducerConfig returns an idempotent producer config acking on all replicas.
func NewKafkaProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	return cfg
}

// KafkaPublisher publishes to the topic named after the queue. Kafka has no
// per-message delay, so delayed messages are parked in a DelayStore and moved
// to the topic by the relay process.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	delays   DelayStore
	log      *zap.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, delays DelayStore, log *zap.Logger) (*KafkaPublisher, error) {
	prod, err := sarama.NewSyncProducer(brokers, NewKafkaProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(prod, delays, log), nil
}

func NewKafkaPublisherWithProducer(prod sarama.SyncProducer, delays DelayStore, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{producer: prod, delays: delays, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg any, queue string) error {
	pm, err := producerMessage(msg, queue)
	if err != nil {
		return err
	}
	if err := p.send(ctx, func() error {
		_, _, err := p.producer.SendMessage(pm)
		return err
	}); err != nil {
		metrics.PublishFailures.WithLabelValues(queue).Inc()
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	metrics.MessagesPublished.WithLabelValues(queue, metrics.ModeImmediate).Inc()
	return nil
}

func (p *KafkaPublisher) PublishWithDelay(ctx context.Context, msg any, queue string, delay time.Duration) error {
	if delay <= 0 {
		return p.Publish(ctx, msg, queue)
	}
	if p.delays == nil {
		return ErrDelayUnsupported
	}
	body, err := encode(msg)
	if err != nil {
		return err
	}
	if err := p.delays.Schedule(ctx, queue, messageKey(msg), body, time.Now().Add(delay)); err != nil {
		metrics.PublishFailures.WithLabelValues(queue).Inc()
		return err
	}
	metrics.MessagesPublished.WithLabelValues(queue, metrics.ModeDelayed).Inc()
	p.log.Debug("message parked for delayed publish", zap.String("queue", queue), zap.Duration("delay", delay))
	return nil
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, msgs []any, queue string) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := make([]*sarama.ProducerMessage, 0, len(msgs))
	for _, m := range msgs {
		pm, err := producerMessage(m, queue)
		if err != nil {
			return err
		}
		batch = append(batch, pm)
	}
	if err := p.send(ctx, func() error { return p.producer.SendMessages(batch) }); err != nil {
		metrics.PublishFailures.WithLabelValues(queue).Inc()
		return fmt.Errorf("publish batch to %s: %w", queue, err)
	}
	metrics.MessagesPublished.WithLabelValues(queue, metrics.ModeBatch).Add(float64(len(batch)))
	return nil
}

// send runs a blocking producer call but gives up when ctx is done.
func (p *KafkaPublisher) send(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case <-ctx.Done():
		return &TemporaryError{ctx.Err()}
	case err := <-done:
		if err != nil {
			return &TemporaryError{err}
		}
		return nil
	}
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

func producerMessage(msg any, queue string) (*sarama.ProducerMessage, error) {
	body, err := encode(msg)
	if err != nil {
		return nil, err
	}
	pm := &sarama.ProducerMessage{
		Topic: queue,
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("message-id"), Value: []byte(uuid.NewString())},
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
	}
	if key := messageKey(msg); key != "" {
		pm.Key = sarama.StringEncoder(key)
	}
	return pm, nil
}

// KafkaConsumer reads one topic through a consumer group. A group consumes
// one queue at a time.
type KafkaConsumer struct {
	group sarama.ConsumerGroup
	log   *zap.Logger
}

var _ Consumer = (*KafkaConsumer)(nil)

func NewKafkaConsumer(brokers []string, groupID string, log *zap.Logger) (*KafkaConsumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	return NewKafkaConsumerWithGroup(group, log), nil
}

func NewKafkaConsumerWithGroup(group sarama.ConsumerGroup, log *zap.Logger) *KafkaConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaConsumer{group: group, log: log}
}

// Consume blocks until ctx is done, rejoining the group after every rebalance.
func (c *KafkaConsumer) Consume(ctx context.Context, queue string, h Handler) error {
	go func() {
		for err := range c.group.Errors() {
			c.log.Warn("kafka consumer error", zap.String("queue", queue), zap.Error(err))
		}
	}()

	gh := &groupHandler{queue: queue, handle: h, log: c.log}
	for {
		if err := c.group.Consume(ctx, []string{queue}, gh); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %s: %w", queue, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	queue  string
	handle Handler
	log    *zap.Logger
}

func (g *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (g *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim retries a failing handler with backoff, then marks the offset
// either way so one poison message cannot stall the partition. A message whose
// handling was cut short by the session ending is left unmarked and
// redelivered to the next owner of the partition.
func (g *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			g.process(ctx, msg)
			if ctx.Err() != nil {
				return nil
			}
			sess.MarkMessage(msg, "")
		}
	}
}

func (g *groupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) {
	for attempt := 0; attempt < handlerAttempts; attempt++ {
		err := g.handle(ctx, msg.Value)
		if err == nil {
			return
		}
		g.log.Warn("handler failed",
			zap.String("queue", g.queue),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if !IsRetryable(err) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(Backoff(attempt)):
		}
	}
}
