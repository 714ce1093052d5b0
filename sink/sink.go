package sink

import "context"

type WriteRequest struct {
	Key         string
	Data        []byte
	ContentType string
}

// Sinkr stores one finished object.
type Sinkr interface {
	Write(ctx context.Context, req WriteRequest) error
}
