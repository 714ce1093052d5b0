package transformer

import (
	"context"

	"github.com/baldanca/sqs-stream/stream"
)

// Transformer converts a received message into a typed record.
type Transformer[O any] interface {
	Transform(ctx context.Context, m *stream.Message) (O, error)
}

// Func adapts a plain function to Transformer.
type Func[O any] func(ctx context.Context, m *stream.Message) (O, error)

func (f Func[O]) Transform(ctx context.Context, m *stream.Message) (O, error) {
	return f(ctx, m)
}
