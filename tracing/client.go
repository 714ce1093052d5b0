package tracing

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/baldanca/sqs-stream/stream"
)

const instrumentationName = "github.com/baldanca/sqs-stream/tracing"

// Client returns c with a span around every SQS call.
func Client(c stream.Client, tp trace.TracerProvider, queue string) stream.Client {
	return &client{
		next:   c,
		tracer: tp.Tracer(instrumentationName),
		attrs:  queueAttributes(queue),
	}
}

type client struct {
	next   stream.Client
	tracer trace.Tracer
	attrs  []attribute.KeyValue
}

func (c *client) start(ctx context.Context, name, operation string, kind trace.SpanKind, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(c.attrs)+1+len(extra))
	attrs = append(attrs, c.attrs...)
	attrs = append(attrs, attribute.String("messaging.operation.name", operation))
	attrs = append(attrs, extra...)
	return c.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *client) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	ctx, span := c.start(ctx, "sqs.ReceiveMessage", "receive", trace.SpanKindConsumer,
		attribute.Int("aws.sqs.max_messages", int(in.MaxNumberOfMessages)),
		attribute.Int("aws.sqs.wait_time_seconds", int(in.WaitTimeSeconds)),
	)
	out, err := c.next.ReceiveMessage(ctx, in, optFns...)
	if err == nil && out != nil {
		span.SetAttributes(attribute.Int("messaging.batch.message_count", len(out.Messages)))
	}
	end(span, err)
	return out, err
}

func (c *client) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	ctx, span := c.start(ctx, "sqs.DeleteMessage", "settle", trace.SpanKindClient)
	out, err := c.next.DeleteMessage(ctx, in, optFns...)
	end(span, err)
	return out, err
}

func (c *client) DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	ctx, span := c.start(ctx, "sqs.DeleteMessageBatch", "settle", trace.SpanKindClient,
		attribute.Int("messaging.batch.message_count", len(in.Entries)),
	)
	out, err := c.next.DeleteMessageBatch(ctx, in, optFns...)
	if err == nil && out != nil && len(out.Failed) > 0 {
		span.SetAttributes(attribute.Int("aws.sqs.failed_entries", len(out.Failed)))
		span.SetStatus(codes.Error, "batch entries failed")
	}
	end(span, err)
	return out, err
}

func (c *client) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	ctx, span := c.start(ctx, "sqs.ChangeMessageVisibility", "settle", trace.SpanKindClient,
		attribute.Int("aws.sqs.visibility_timeout", int(in.VisibilityTimeout)),
	)
	out, err := c.next.ChangeMessageVisibility(ctx, in, optFns...)
	end(span, err)
	return out, err
}

func (c *client) ChangeMessageVisibilityBatch(ctx context.Context, in *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error) {
	ctx, span := c.start(ctx, "sqs.ChangeMessageVisibilityBatch", "settle", trace.SpanKindClient,
		attribute.Int("messaging.batch.message_count", len(in.Entries)),
	)
	out, err := c.next.ChangeMessageVisibilityBatch(ctx, in, optFns...)
	if err == nil && out != nil && len(out.Failed) > 0 {
		span.SetAttributes(attribute.Int("aws.sqs.failed_entries", len(out.Failed)))
		span.SetStatus(codes.Error, "batch entries failed")
	}
	end(span, err)
	return out, err
}
