package stream

import (
	"context"
	"sync"
)

// Reader is a buffered Consumer with a pull API. It asks its Stream for more
// data whenever the buffer drops below the high-water mark.
type Reader struct {
	stream *Stream
	hwm    int

	mu      sync.Mutex
	buf     []*Message
	paused  bool
	ended   bool
	err     error
	changed chan struct{}
}

// NewReader builds a Stream feeding a new Reader. Nothing is received until
// the first Receive or Resume.
func NewReader(ctx context.Context, client Client, cfg Config, opts ...Option) (*Reader, error) {
	r := &Reader{changed: make(chan struct{})}
	s, err := New(ctx, client, cfg, r, opts...)
	if err != nil {
		return nil, err
	}
	r.stream = s
	r.hwm = s.cfg.Buffer.HighWaterMark
	return r, nil
}

// Stream returns the underlying stream.
func (r *Reader) Stream() *Stream { return r.stream }

// Push implements Consumer.
func (r *Reader) Push(m *Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return false
	}
	r.buf = append(r.buf, m)
	r.broadcast()
	return !r.paused && len(r.buf) < r.hwm
}

// End implements Consumer.
func (r *Reader) End(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.ended = true
	r.err = err
	r.broadcast()
}

// Idle implements Idler. Waiting receivers wake up and signal demand again.
func (r *Reader) Idle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast()
}

// Receive returns the next message. Once the stream ended and the buffer is
// drained it returns the error that ended the stream, or ErrClosed.
func (r *Reader) Receive(ctx context.Context) (*Message, error) {
	for {
		r.mu.Lock()
		if len(r.buf) > 0 {
			m := r.buf[0]
			r.buf[0] = nil
			r.buf = r.buf[1:]
			demand := !r.paused && !r.ended && len(r.buf) < r.hwm
			r.mu.Unlock()
			if demand {
				r.stream.Read()
			}
			return m, nil
		}
		if r.ended {
			err := r.err
			r.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, ErrClosed
		}
		demand := !r.paused
		changed := r.changed
		r.mu.Unlock()

		if demand {
			r.stream.Read()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// Buffered returns the number of messages waiting in the buffer.
func (r *Reader) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Pause stops demand signals. A receive already in flight still completes
// and its messages are buffered.
func (r *Reader) Pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
}

// Resume clears Pause and signals demand.
func (r *Reader) Resume() {
	r.mu.Lock()
	r.paused = false
	full := len(r.buf) >= r.hwm
	r.broadcast()
	r.mu.Unlock()
	if !full {
		r.stream.Read()
	}
}

func (r *Reader) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Close ends the underlying stream. Buffered messages can still be received.
func (r *Reader) Close() {
	r.stream.Close()
}

// AckBatch deletes msgs from the queue.
func (r *Reader) AckBatch(ctx context.Context, msgs []*Message) error {
	return r.stream.AckBatch(ctx, msgs)
}

// ExtendVisibilityBatch sets the visibility timeout of msgs.
func (r *Reader) ExtendVisibilityBatch(ctx context.Context, msgs []*Message, timeoutSeconds int32) error {
	return r.stream.ExtendVisibilityBatch(ctx, msgs, timeoutSeconds)
}

// broadcast wakes every waiting Receive. Callers hold r.mu.
func (r *Reader) broadcast() {
	close(r.changed)
	r.changed = make(chan struct{})
}
