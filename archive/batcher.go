package archive

import (
	"time"

	"github.com/baldanca/sqs-stream/stream"
)

// batcher accumulates records and the messages they came from. It is owned
// by the Run goroutine.
type batcher[T any] struct {
	maxItems int
	maxBytes int64
	interval time.Duration

	items []T
	msgs  []*stream.Message
	bytes int64

	deadline time.Time
	active   bool
}

func newBatcher[T any](cfg Config) *batcher[T] {
	return &batcher[T]{
		maxItems: cfg.MaxItems,
		maxBytes: cfg.MaxBytes,
		interval: cfg.FlushInterval,
	}
}

// add appends one record and reports whether the batch is full.
func (b *batcher[T]) add(now time.Time, item T, msg *stream.Message, size int64) (full bool) {
	if !b.active {
		b.active = true
		b.deadline = now.Add(b.interval)
	}

	b.items = append(b.items, item)
	b.msgs = append(b.msgs, msg)
	b.bytes += size

	return len(b.items) >= b.maxItems || b.bytes >= b.maxBytes
}

func (b *batcher[T]) deadlineAt() (time.Time, bool) {
	return b.deadline, b.active
}

func (b *batcher[T]) due(now time.Time) bool {
	return b.active && !now.Before(b.deadline)
}

func (b *batcher[T]) len() int { return len(b.items) }

type batch[T any] struct {
	Items []T
	Msgs  []*stream.Message
	Bytes int64
}

// flush hands the current batch over and starts an empty one.
func (b *batcher[T]) flush() batch[T] {
	out := batch[T]{Items: b.items, Msgs: b.msgs, Bytes: b.bytes}

	b.items = nil
	b.msgs = nil
	b.bytes = 0
	b.active = false
	b.deadline = time.Time{}

	return out
}
