// Package archive drains a queue into batched objects. Messages are acked
// only after the object holding them was written.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	"github.com/baldanca/sqs-stream/encoder"
	"github.com/baldanca/sqs-stream/sink"
	"github.com/baldanca/sqs-stream/stream"
	"github.com/baldanca/sqs-stream/transformer"
)

// Source is satisfied by *stream.Reader.
type Source interface {
	Receive(ctx context.Context) (*stream.Message, error)
	AckBatch(ctx context.Context, msgs []*stream.Message) error
	ExtendVisibilityBatch(ctx context.Context, msgs []*stream.Message, timeoutSeconds int32) error
}

// Observer receives archive outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	Flushed(items int, bytes int64, elapsed time.Duration, err error)
	Skipped(err error)
}

type nopObserver struct{}

func (nopObserver) Flushed(int, int64, time.Duration, error) {}
func (nopObserver) Skipped(error)                            {}

// Option customizes an Archiver built by New.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	observer Observer
	keyFunc  KeyFunc
	retry    RetryPolicy
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers obs for flush and skip outcomes.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithKeyFunc replaces DefaultKeyFunc.
func WithKeyFunc(f KeyFunc) Option {
	return func(o *options) {
		if f != nil {
			o.keyFunc = f
		}
	}
}

// WithRetryPolicy replaces the policy built from Config for writes and acks.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		if p != nil {
			o.retry = p
		}
	}
}

// Archiver batches records transformed from a Source and writes each batch
// as one object to a sink.
type Archiver[T any] struct {
	cfg         Config
	source      Source
	transformer transformer.Transformer[T]
	encoder     encoder.Encoder[T]
	sink        sink.Sinkr

	keyFunc  KeyFunc
	retry    RetryPolicy
	logger   *zap.Logger
	observer Observer

	batcher *batcher[T]
}

// New validates cfg and wires the Archiver. Nothing is received until Run.
func New[T any](
	cfg Config,
	src Source,
	tr transformer.Transformer[T],
	enc encoder.Encoder[T],
	sk sink.Sinkr,
	opts ...Option,
) (*Archiver[T], error) {
	if src == nil {
		return nil, errors.New("source is nil")
	}
	if tr == nil {
		return nil, errors.New("transformer is nil")
	}
	if enc == nil {
		return nil, errors.New("encoder is nil")
	}
	if sk == nil {
		return nil, errors.New("sink is nil")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("archive config: %w", err)
	}

	o := options{
		logger:   zap.NewNop(),
		observer: nopObserver{},
		keyFunc:  DefaultKeyFunc("", enc.FileExtension()),
		retry:    cfg.retryPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Archiver[T]{
		cfg:         cfg,
		source:      src,
		transformer: tr,
		encoder:     enc,
		sink:        sk,
		keyFunc:     o.keyFunc,
		retry:       o.retry,
		logger:      o.logger.Named("archive"),
		observer:    o.observer,
		batcher:     newBatcher[T](cfg),
	}, nil
}

// Run receives until the source ends or ctx is cancelled. A clean end and a
// cancellation both flush what is buffered and return nil. A source error is
// returned after the buffered batch was flushed. Run must not be called
// concurrently.
func (a *Archiver[T]) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return a.flushOnStop(ctx)
		}

		recvCtx := ctx
		cancel := context.CancelFunc(func() {})
		if deadline, ok := a.batcher.deadlineAt(); ok {
			recvCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		msg, err := a.source.Receive(recvCtx)
		expired := recvCtx.Err() != nil
		cancel()

		if err != nil {
			switch {
			case ctx.Err() != nil:
				return a.flushOnStop(ctx)
			case expired:
				if err := a.flush(ctx); err != nil {
					return err
				}
				continue
			case errors.Is(err, stream.ErrClosed):
				a.logger.Info("source ended, flushing remaining records", zap.Int("records", a.batcher.len()))
				return a.flushOnStop(ctx)
			default:
				a.logger.Error("source failed", zap.Error(err))
				if ferr := a.flushOnStop(ctx); ferr != nil {
					return errors.Join(err, ferr)
				}
				return err
			}
		}

		full := a.add(ctx, msg)
		if full || a.batcher.due(time.Now()) {
			if err := a.flush(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *Archiver[T]) add(ctx context.Context, msg *stream.Message) (full bool) {
	rec, err := a.transformer.Transform(ctx, msg)
	if err != nil {
		a.reject(ctx, msg, err)
		return false
	}
	return a.batcher.add(time.Now(), rec, msg, int64(len(msg.Text())))
}

// reject leaves msg on the queue. With FailVisibilitySeconds set it comes
// back after that delay.
func (a *Archiver[T]) reject(ctx context.Context, msg *stream.Message, reason error) {
	a.observer.Skipped(reason)
	a.logger.Warn("skipping message",
		zap.String("message_id", aws.ToString(msg.MessageId)),
		zap.Error(reason),
	)
	if a.cfg.FailVisibilitySeconds <= 0 {
		return
	}
	if err := msg.ChangeVisibility(ctx, a.cfg.FailVisibilitySeconds); err != nil {
		a.logger.Warn("change visibility of skipped message failed",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err),
		)
	}
}

func (a *Archiver[T]) flush(ctx context.Context) error {
	b := a.batcher.flush()
	if len(b.Items) == 0 {
		return nil
	}

	start := time.Now()
	err := a.write(ctx, b)
	a.observer.Flushed(len(b.Items), b.Bytes, time.Since(start), err)
	if err != nil {
		a.logger.Error("flush failed", zap.Int("records", len(b.Items)), zap.Error(err))
		return err
	}
	return nil
}

func (a *Archiver[T]) write(parent context.Context, b batch[T]) error {
	ctx, stopLease := a.startLease(parent, b.Msgs)
	defer stopLease()

	key, err := a.keyFunc(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("build object key: %w", err)
	}

	data, err := a.encoder.Encode(ctx, b.Items)
	if err != nil {
		return fmt.Errorf("encode %d records: %w", len(b.Items), leaseCause(ctx, err))
	}

	contentType := a.encoder.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req := sink.WriteRequest{Key: key, Data: data, ContentType: contentType}

	if err := a.retry.Do(ctx, func(ctx context.Context) error {
		return a.sink.Write(ctx, req)
	}); err != nil {
		return leaseCause(ctx, err)
	}

	// Ack only after the object is durable.
	if err := a.retry.Do(ctx, func(ctx context.Context) error {
		return a.source.AckBatch(ctx, b.Msgs)
	}); err != nil {
		return fmt.Errorf("ack %d messages of %s: %w", len(b.Msgs), key, leaseCause(ctx, err))
	}

	a.logger.Debug("batch archived",
		zap.String("key", key),
		zap.Int("records", len(b.Items)),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// startLease keeps msgs invisible while they are being written. A failed
// renewal cancels the returned context with the renewal error as cause.
func (a *Archiver[T]) startLease(parent context.Context, msgs []*stream.Message) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	if a.cfg.LeaseVisibilitySeconds <= 0 || len(msgs) == 0 {
		return ctx, func() { cancel(nil) }
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(a.cfg.LeaseRenewEvery)
		defer t.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := a.source.ExtendVisibilityBatch(ctx, msgs, a.cfg.LeaseVisibilitySeconds); err != nil {
					if ctx.Err() == nil {
						cancel(fmt.Errorf("renew lease: %w", err))
					}
					return
				}
			}
		}
	}()

	return ctx, func() {
		close(done)
		cancel(nil)
	}
}

// flushOnStop flushes the buffered batch with a detached, bounded context.
func (a *Archiver[T]) flushOnStop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.StopTimeout)
	defer cancel()
	return a.flush(stopCtx)
}

// leaseCause prefers a lease failure over the context error it caused.
func leaseCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return err
}
