package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/baldanca/sqs-stream/stream"
)

// Client returns c with every SQS call counted and timed under queue.
func (r *Registry) Client(c stream.Client, queue string) stream.Client {
	return &client{next: c, r: r, queue: queue}
}

type client struct {
	next  stream.Client
	r     *Registry
	queue string
}

func (c *client) observe(operation string, start time.Time, err error) {
	c.r.recordOperation(c.queue, operation, time.Since(start), err)
}

func (c *client) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	start := time.Now()
	out, err := c.next.ReceiveMessage(ctx, in, optFns...)
	c.observe("ReceiveMessage", start, err)
	return out, err
}

func (c *client) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	start := time.Now()
	out, err := c.next.DeleteMessage(ctx, in, optFns...)
	c.observe("DeleteMessage", start, err)
	return out, err
}

func (c *client) DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	start := time.Now()
	out, err := c.next.DeleteMessageBatch(ctx, in, optFns...)
	c.observe("DeleteMessageBatch", start, err)
	return out, err
}

func (c *client) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	start := time.Now()
	out, err := c.next.ChangeMessageVisibility(ctx, in, optFns...)
	c.observe("ChangeMessageVisibility", start, err)
	return out, err
}

func (c *client) ChangeMessageVisibilityBatch(ctx context.Context, in *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error) {
	start := time.Now()
	out, err := c.next.ChangeMessageVisibilityBatch(ctx, in, optFns...)
	c.observe("ChangeMessageVisibilityBatch", start, err)
	return out, err
}
