package stream

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is one received SQS message bound to the queue it came from, so it
// can be deleted or have its visibility changed without holding the Stream.
type Message struct {
	sqstypes.Message

	QueueURL string

	client  Client
	ctx     context.Context
	timeout time.Duration
}

// NewMessage binds m to queueURL and client.
func NewMessage(client Client, queueURL string, m sqstypes.Message) *Message {
	return &Message{
		Message:  m,
		QueueURL: queueURL,
		client:   client,
		ctx:      context.Background(),
		timeout:  DefaultConfig.AckTimeout,
	}
}

// Text returns the message body.
func (m *Message) Text() string {
	return aws.ToString(m.Body)
}

// Delete removes the message from the queue.
func (m *Message) Delete(ctx context.Context) error {
	_, err := m.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(m.QueueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	return err
}

// Acknowledge deletes the message in the background. cb, when not nil,
// receives the outcome; otherwise errors are dropped.
func (m *Message) Acknowledge(cb func(error)) {
	go func() {
		ctx, cancel := m.opContext()
		defer cancel()
		done(cb, m.Delete(ctx))
	}()
}

// ChangeVisibility sets the visibility timeout of the message. Zero makes it
// visible again right away.
func (m *Message) ChangeVisibility(ctx context.Context, timeoutSeconds int32) error {
	_, err := m.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(m.QueueURL),
		ReceiptHandle:     m.ReceiptHandle,
		VisibilityTimeout: timeoutSeconds,
	})
	return err
}

// ExtendVisibility changes the visibility timeout in the background. Pass 0
// for the default delay. cb, when not nil, receives the outcome.
func (m *Message) ExtendVisibility(timeoutSeconds int32, cb func(error)) {
	go func() {
		ctx, cancel := m.opContext()
		defer cancel()
		done(cb, m.ChangeVisibility(ctx, timeoutSeconds))
	}()
}

func (m *Message) opContext() (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(m.ctx)
	}
	return context.WithTimeout(m.ctx, m.timeout)
}

func done(cb func(error), err error) {
	if cb != nil {
		cb(err)
	}
}
