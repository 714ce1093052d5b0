package stream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// maxBatchEntries is the SQS limit for batch requests.
const maxBatchEntries = 10

// AckBatch deletes msgs with DeleteMessageBatch, ten at a time. It stops at
// the first failed request or entry. Entry ids are positions within the
// request: a redelivered copy shares its MessageId with the original.
func (s *Stream) AckBatch(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, maxBatchEntries)
	in := sqs.DeleteMessageBatchInput{QueueUrl: s.queueURLPtr}

	for i := 0; i < len(msgs); i += maxBatchEntries {
		end := min(i+maxBatchEntries, len(msgs))

		entries = entries[:0]
		for j := i; j < end; j++ {
			m := msgs[j]
			if m == nil {
				continue
			}
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(j - i)),
				ReceiptHandle: m.ReceiptHandle,
			})
		}
		if len(entries) == 0 {
			continue
		}

		in.Entries = entries
		out, err := s.client.DeleteMessageBatch(ctx, &in)
		if err != nil {
			return fmt.Errorf("delete message batch: %w", err)
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs delete failed id=%s code=%s message=%s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}

// ExtendVisibilityBatch sets the visibility timeout of msgs with
// ChangeMessageVisibilityBatch, ten at a time.
func (s *Stream) ExtendVisibilityBatch(ctx context.Context, msgs []*Message, timeoutSeconds int32) error {
	if len(msgs) == 0 {
		return nil
	}

	entries := make([]sqstypes.ChangeMessageVisibilityBatchRequestEntry, 0, maxBatchEntries)
	in := sqs.ChangeMessageVisibilityBatchInput{QueueUrl: s.queueURLPtr}

	for i := 0; i < len(msgs); i += maxBatchEntries {
		end := min(i+maxBatchEntries, len(msgs))

		entries = entries[:0]
		for j := i; j < end; j++ {
			m := msgs[j]
			if m == nil {
				continue
			}
			entries = append(entries, sqstypes.ChangeMessageVisibilityBatchRequestEntry{
				Id:                aws.String(strconv.Itoa(j - i)),
				ReceiptHandle:     m.ReceiptHandle,
				VisibilityTimeout: timeoutSeconds,
			})
		}
		if len(entries) == 0 {
			continue
		}

		in.Entries = entries
		out, err := s.client.ChangeMessageVisibilityBatch(ctx, &in)
		if err != nil {
			return fmt.Errorf("change message visibility batch: %w", err)
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs visibility batch failed id=%s code=%s message=%s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}
