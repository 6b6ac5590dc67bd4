package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"notification-hub/shared/pkg/metrics"
)

const (
	sqsMaxBatch = 10
	sqsMaxDelay = 15 * time.Minute
)

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewSQSClient loads the default AWS config. A non-empty endpoint (LocalStack)
// overrides the service URL.
func NewSQSClient(ctx context.Context, endpoint string) (*sqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// SQSQueueName maps a queue name to a valid SQS name ("notifications.email"
// with prefix "prod-" becomes "prod-notifications-email").
func SQSQueueName(prefix, queue string) string {
	return prefix + strings.ReplaceAll(queue, ".", "-")
}

// queueURLs resolves each queue URL once. Concurrent first lookups of the same
// queue share one GetQueueUrl call; later lookups read the cache.
type queueURLs struct {
	client SQSAPI
	prefix string
	cache  sync.Map
	group  singleflight.Group
}

func (q *queueURLs) resolve(ctx context.Context, queue string) (string, error) {
	if u, ok := q.cache.Load(queue); ok {
		return u.(string), nil
	}
	v, err, _ := q.group.Do(queue, func() (any, error) {
		if u, ok := q.cache.Load(queue); ok {
			return u, nil
		}
		out, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
			QueueName: aws.String(SQSQueueName(q.prefix, queue)),
		})
		if err != nil {
			return "", fmt.Errorf("get queue url for %s: %w", queue, err)
		}
		u := aws.ToString(out.QueueUrl)
		q.cache.Store(queue, u)
		return u, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SQSPublisher publishes to SQS. Delays up to 15 minutes use DelaySeconds;
// longer ones go to the DelayStore.
type SQSPublisher struct {
	client SQSAPI
	urls   *queueURLs
	delays DelayStore
	log    *zap.Logger
}

var _ Publisher = (*SQSPublisher)(nil)

func NewSQSPublisher(client SQSAPI, prefix string, delays DelayStore, log *zap.Logger) *SQSPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQSPublisher{
		client: client,
		urls:   &queueURLs{client: client, prefix: prefix},
		delays: delays,
		log:    log,
	}
}

func (p *SQSPublisher) Publish(ctx context.Context, msg any, queue string) error {
	if err := p.send(ctx, msg, queue, 0); err != nil {
		return err
	}
	metrics.MessagesPublished.WithLabelValues(queue, metrics.ModeImmediate).Inc()
	return nil
}

func (p *SQSPublisher) PublishWithDelay(ctx context.Context, msg any, queue string, delay time.Duration) error {
	switch {
	case delay <= 0:
		return p.Publish(ctx, msg, queue)
	case delay <= sqsMaxDelay:
		if err := p.send(ctx, msg, queue, int32((delay+time.Second-1)/time.Second)); err != nil {
			return err
		}
	case p.delays != nil:
		body, err := encode(msg)
		if err != nil {
			return err
		}
		if err := p.delays.Schedule(ctx, queue, messageKey(msg), body, time.Now().Add(delay)); err != nil {
			metrics.PublishFailures.WithLabelValues(queue).Inc()
			return err
		}
	default:
		return fmt.Errorf("%w: %s exceeds the SQS maximum of %s", ErrDelayUnsupported, delay, sqsMaxDelay)
	}
	metrics.MessagesPublished.WithLabelValues(queue, metrics.ModeDelayed).Inc()
	return nil
}

func (p *SQSPublisher) send(ctx context.Context, msg any, queue string, delaySeconds int32) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	url, err := p.urls.resolve(ctx, queue)
	if err != nil {
		metrics.PublishFailures.WithLabelValues(queue).Inc()
		return &TemporaryError{err}
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(url),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySeconds,
	})
	if err != nil {
		metrics.PublishFailures.WithLabelValues(queue).Inc()
		return &TemporaryError{fmt.Errorf("send to %s: %w", queue, err)}
	}
	return nil
}

// PublishBatch sends msgs in chunks of ten, the SQS batch limit.
func (p *SQSPublisher) PublishBatch(ctx context.Context, msgs []any, queue string) error {
	if len(msgs) == 0 {
		return nil
	}
	url, err := p.urls.resolve(ctx, queue)
	if err != nil {
		metrics.PublishFailures.WithLabelValues(queue).Inc()
		return &TemporaryError{err}
	}
	for i := 0; i < len(msgs); i += sqsMaxBatch {
		end := min(i+sqsMaxBatch, len(msgs))

		entries := make([]types.SendMessageBatchRequestEntry, 0, end-i)
		for j, m := range msgs[i:end] {
			body, err := encode(m)
			if err != nil {
				return err
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(fmt.Sprintf("msg-%d", j)),
				MessageBody: aws.String(string(body)),
			})
		}

		out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(url),
			Entries:  entries,
		})
		if err != nil {
			metrics.PublishFailures.WithLabelValues(queue).Inc()
			return &TemporaryError{fmt.Errorf("send batch to %s: %w", queue, err)}
		}
		if len(out.Failed) > 0 {
			metrics.PublishFailures.WithLabelValues(queue).Inc()
			return fmt.Errorf("send batch to %s: %d of %d entries failed: %s",
				queue, len(out.Failed), len(entries), aws.ToString(out.Failed[0].Message))
		}
		metrics.MessagesPublished.WithLabelValues(queue, metrics.ModeBatch).Add(float64(len(entries)))
	}
	return nil
}

func (p *SQSPublisher) Close() error { return nil }

// SQSConsumer long-polls a queue and deletes each message its handler accepts.
// Rejected messages reappear after the visibility timeout.
type SQSConsumer struct {
	client SQSAPI
	urls   *queueURLs
	log    *zap.Logger
}

var _ Consumer = (*SQSConsumer)(nil)

func NewSQSConsumer(client SQSAPI, prefix string, log *zap.Logger) *SQSConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQSConsumer{client: client, urls: &queueURLs{client: client, prefix: prefix}, log: log}
}

func (c *SQSConsumer) Consume(ctx context.Context, queue string, h Handler) error {
	url, err := c.urls.resolve(ctx, queue)
	if err != nil {
		return err
	}
	c.log.Info("sqs consumer started", zap.String("queue", queue))
	for {
		select {
		case <-ctx.Done():
			c.log.Info("sqs consumer stopped", zap.String("queue", queue))
			return ctx.Err()
		default:
		}
		if err := c.pollOnce(ctx, url, queue, h); err != nil {
			c.log.Error("sqs receive failed", zap.String("queue", queue), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}
}

func (c *SQSConsumer) pollOnce(ctx context.Context, url, queue string, h Handler) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   30,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	for _, msg := range out.Messages {
		if msg.Body == nil || msg.ReceiptHandle == nil {
			continue
		}
		if err := h(ctx, []byte(*msg.Body)); err != nil {
			c.log.Warn("handler failed, message left for redelivery", zap.String("queue", queue), zap.Error(err))
			continue
		}
		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(url),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.log.Error("failed to delete sqs message", zap.String("queue", queue), zap.Error(err))
		}
	}
	return nil
}

func (c *SQSConsumer) Close() error { return nil }
