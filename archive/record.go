package archive

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/baldanca/sqs-stream/stream"
	"github.com/baldanca/sqs-stream/transformer"
)

// Record is the parquet row written for one archived message.
type Record struct {
	MessageID     string `parquet:"message_id"`
	QueueURL      string `parquet:"queue_url"`
	Body          string `parquet:"body"`
	BodyMD5       string `parquet:"body_md5"`
	SentTimestamp int64  `parquet:"sent_timestamp_ms"`
	ReceiveCount  int64  `parquet:"receive_count"`
	ArchivedAt    int64  `parquet:"archived_at_ms"`
}

var errNoMessageID = errors.New("message id is missing")

// RecordTransformer maps messages to Records. Missing system attributes are
// recorded as zero; malformed ones reject the message.
func RecordTransformer() transformer.Transformer[Record] {
	return transformer.Func[Record](func(_ context.Context, m *stream.Message) (Record, error) {
		id := aws.ToString(m.MessageId)
		if id == "" {
			return Record{}, errNoMessageID
		}

		sent, err := intAttribute(m, sqstypes.MessageSystemAttributeNameSentTimestamp)
		if err != nil {
			return Record{}, err
		}
		receives, err := intAttribute(m, sqstypes.MessageSystemAttributeNameApproximateReceiveCount)
		if err != nil {
			return Record{}, err
		}

		return Record{
			MessageID:     id,
			QueueURL:      m.QueueURL,
			Body:          m.Text(),
			BodyMD5:       aws.ToString(m.MD5OfBody),
			SentTimestamp: sent,
			ReceiveCount:  receives,
			ArchivedAt:    time.Now().UnixMilli(),
		}, nil
	})
}

func intAttribute(m *stream.Message, name sqstypes.MessageSystemAttributeName) (int64, error) {
	v, ok := m.Attributes[string(name)]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", name, err)
	}
	return n, nil
}
