package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	urlCalls atomic.Int32

	mu      sync.Mutex
	sent    []*sqs.SendMessageInput
	batches []*sqs.SendMessageBatchInput
	deleted []string
	inbox   []types.Message
	sendErr error
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.urlCalls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/" + aws.ToString(in.QueueName))}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) SendMessageBatch(_ context.Context, in *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, in)
	return &sqs.SendMessageBatchOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.inbox
	f.inbox = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueName(t *testing.T) {
	assert.Equal(t, "prod-notifications-email", SQSQueueName("prod-", QueueEmail))
	assert.Equal(t, "notifications-deadletter", SQSQueueName("", QueueDeadLetter))
}

func TestSQSPublisher_ResolvesQueueURLOnce(t *testing.T) {
	fake := &fakeSQS{}
	p := NewSQSPublisher(fake, "test-", nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Publish(context.Background(), map[string]int{"i": 1}, QueueEmail))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, fake.urlCalls.Load())
	require.Len(t, fake.sent, 20)
	assert.Equal(t, "https://sqs.local/test-notifications-email", aws.ToString(fake.sent[0].QueueUrl))

	require.NoError(t, p.Publish(context.Background(), "x", QueueSMS))
	assert.EqualValues(t, 2, fake.urlCalls.Load())
}

func TestSQSPublisher_Delays(t *testing.T) {
	fake := &fakeSQS{}
	delays := &recordingDelays{}
	p := NewSQSPublisher(fake, "", delays, nil)
	ctx := context.Background()

	require.NoError(t, p.PublishWithDelay(ctx, "short", QueueEmail, 90*time.Second+time.Millisecond))
	require.Len(t, fake.sent, 1)
	assert.EqualValues(t, 91, fake.sent[0].DelaySeconds)

	require.NoError(t, p.PublishWithDelay(ctx, "long", QueueEmail, time.Hour))
	assert.Len(t, fake.sent, 1)
	assert.Equal(t, QueueEmail, delays.queue)

	noStore := NewSQSPublisher(fake, "", nil, nil)
	assert.ErrorIs(t, noStore.PublishWithDelay(ctx, "long", QueueEmail, time.Hour), ErrDelayUnsupported)
}

func TestSQSPublisher_BatchesOfTen(t *testing.T) {
	fake := &fakeSQS{}
	p := NewSQSPublisher(fake, "", nil, nil)

	msgs := make([]any, 23)
	for i := range msgs {
		msgs[i] = map[string]int{"i": i}
	}
	require.NoError(t, p.PublishBatch(context.Background(), msgs, QueuePush))

	require.Len(t, fake.batches, 3)
	assert.Len(t, fake.batches[0].Entries, 10)
	assert.Len(t, fake.batches[1].Entries, 10)
	assert.Len(t, fake.batches[2].Entries, 3)
}

func TestSQSPublisher_SendErrorIsTemporary(t *testing.T) {
	fake := &fakeSQS{sendErr: errors.New("throttled")}
	p := NewSQSPublisher(fake, "", nil, nil)
	err := p.Publish(context.Background(), "x", QueueEmail)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestSQSConsumer_DeletesOnlyAcceptedMessages(t *testing.T) {
	fake := &fakeSQS{inbox: []types.Message{
		{Body: aws.String(`ok`), ReceiptHandle: aws.String("r-ok")},
		{Body: aws.String(`bad`), ReceiptHandle: aws.String("r-bad")},
	}}
	c := NewSQSConsumer(fake, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := c.Consume(ctx, QueueStatus, func(_ context.Context, body []byte) error {
		if string(body) == "bad" {
			return errors.New("rejected")
		}
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"r-ok"}, fake.deleted)
}
