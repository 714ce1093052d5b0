// Package stream exposes an SQS queue as a demand-driven, ordered producer.
//
// A Stream issues at most one ReceiveMessage at a time and only when the
// downstream Consumer asked for data. Fetched messages are pushed in arrival
// order; failed receives are retried with exponential backoff.
package stream

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Reader.Receive once the stream ended cleanly
	// and every buffered message was consumed.
	ErrClosed = errors.New("stream closed")

	// ErrNoClient, ErrNoConsumer and ErrNoQueueURL are returned by New.
	ErrNoClient   = errors.New("sqs client is required")
	ErrNoConsumer = errors.New("consumer is required")
	ErrNoQueueURL = errors.New("queue url is required")
)

// Client is the subset of *sqs.Client used by a Stream and its messages.
type Client interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
}

// Consumer is the downstream side of a Stream.
//
// Push hands over one message and reports whether the consumer wants more.
// End is called exactly once, after the last Push; err is nil for a clean end.
// Neither method may block for long: both run on the fetch goroutine.
type Consumer interface {
	Push(msg *Message) bool
	End(err error)
}

// Idler is implemented by consumers that want to know when a fetch cycle
// finished without starting another one. Idle runs on the fetch goroutine.
type Idler interface {
	Idle()
}

// Observer receives stream lifecycle notifications. Implementations must be
// safe for concurrent use.
type Observer interface {
	Fetched(count int, elapsed time.Duration, err error)
	Retrying(err error, delay time.Duration)
	Ended(err error)
}

type nopObserver struct{}

func (nopObserver) Fetched(int, time.Duration, error) {}
func (nopObserver) Retrying(error, time.Duration)     {}
func (nopObserver) Ended(error)                       {}

// Option customizes a Stream built by New.
type Option func(*Stream)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Stream) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers o for fetch, retry and end notifications.
func WithObserver(o Observer) Option {
	return func(s *Stream) {
		if o != nil {
			s.observer = o
		}
	}
}

// Stream is the poll-driven adapter between an SQS queue and a Consumer.
type Stream struct {
	cfg      Config
	client   Client
	consumer Consumer
	observer Observer
	logger   *zap.Logger

	queueURL    string
	queueURLPtr *string
	input       sqs.ReceiveMessageInput

	ctx context.Context
	// unwatch removes the Close hook registered on ctx.
	unwatch func() bool

	// after schedules f once d elapsed and returns a stop func.
	after func(d time.Duration, f func()) func() bool

	mu         sync.Mutex
	fetching   bool
	retrying   bool
	delivering bool
	ended      bool
	endErr     error
	backoff    backoff
	stopRetry  func() bool
}

// New builds a Stream over client. No receive is issued until the first Read.
// Cancelling ctx ends the stream and aborts an in-flight receive.
func New(ctx context.Context, client Client, cfg Config, consumer Consumer, opts ...Option) (*Stream, error) {
	if isNil(client) {
		return nil, ErrNoClient
	}
	if isNil(consumer) {
		return nil, ErrNoConsumer
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Stream{
		cfg:      cfg,
		client:   client,
		consumer: consumer,
		observer: nopObserver{},
		logger:   zap.NewNop(),
		queueURL: cfg.QueueURL,
		ctx:      ctx,
		after: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		backoff: newBackoff(cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff),
	}
	s.queueURLPtr = &s.queueURL
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("queue", s.queueURL))

	s.input = sqs.ReceiveMessageInput{
		QueueUrl:                    s.queueURLPtr,
		MaxNumberOfMessages:         cfg.Receive.MaxMessages,
		WaitTimeSeconds:             aws.ToInt32(cfg.Receive.WaitTimeSeconds),
		VisibilityTimeout:           cfg.Receive.VisibilityTimeout,
		MessageSystemAttributeNames: cfg.systemAttributes(),
		MessageAttributeNames:       cfg.Receive.MessageAttributeNames,
	}

	s.mu.Lock()
	s.unwatch = context.AfterFunc(ctx, s.Close)
	s.mu.Unlock()
	return s, nil
}

// QueueURL returns the queue this stream reads from.
func (s *Stream) QueueURL() string { return s.queueURL }

// Config returns the effective configuration, defaults included.
func (s *Stream) Config() Config { return s.cfg }

// Read signals downstream demand. It starts a fetch cycle unless one is in
// flight, a retry is pending or the stream ended; in those cases it does nothing.
func (s *Stream) Read() {
	if !s.begin() {
		return
	}
	go s.run()
}

// Close ends the stream. A pending retry is cancelled; an in-flight receive is
// left to finish and its result discarded. Close is idempotent.
func (s *Stream) Close() {
	s.terminate(nil)
}

// Ended reports whether the stream reached its terminal state.
func (s *Stream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Stream) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetching || s.retrying || s.ended {
		return false
	}
	s.fetching = true
	return true
}

func (s *Stream) run() {
	for s.fetch() {
		if !s.begin() {
			return
		}
	}
}

// fetch runs one receive and processes its result. It reports whether the
// consumer still wants data and a new cycle should start right away.
func (s *Stream) fetch() bool {
	in := s.input
	start := time.Now()
	out, err := s.client.ReceiveMessage(s.ctx, &in)

	var msgs []sqstypes.Message
	if err == nil && out != nil {
		msgs = out.Messages
	}
	s.observer.Fetched(len(msgs), time.Since(start), err)

	if s.Ended() {
		return false
	}
	if err != nil {
		s.fail(err)
		return false
	}

	s.mu.Lock()
	s.backoff.reset()
	s.mu.Unlock()

	if len(msgs) == 0 {
		if s.cfg.StopWhenEmpty {
			s.logger.Debug("queue empty, ending stream")
			s.terminate(nil)
			return false
		}
		s.mu.Lock()
		s.fetching = false
		s.mu.Unlock()
		s.idle()
		return false
	}

	demand := s.deliver(msgs)

	s.mu.Lock()
	s.fetching = false
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return false
	}
	if !demand {
		s.idle()
	}
	return demand
}

func (s *Stream) fail(err error) {
	if s.ctx.Err() != nil {
		s.terminate(nil)
		return
	}

	if !s.cfg.retryOnError() {
		s.logger.Error("receive failed, ending stream", zap.Error(err))
		s.terminate(err)
		return
	}

	s.mu.Lock()
	s.fetching = false
	s.retrying = true
	delay := s.backoff.next()
	s.mu.Unlock()

	s.logger.Warn("receive failed, retrying", zap.Duration("delay", delay), zap.Error(err))
	s.observer.Retrying(err, delay)

	s.mu.Lock()
	if !s.ended {
		s.stopRetry = s.after(delay, s.retry)
	}
	s.mu.Unlock()
}

func (s *Stream) retry() {
	s.mu.Lock()
	s.retrying = false
	s.stopRetry = nil
	s.mu.Unlock()
	s.Read()
}

// deliver pushes msgs in order. Every message is pushed even after the
// consumer reported it is full: fetched messages cannot be given back.
func (s *Stream) deliver(msgs []sqstypes.Message) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.delivering = true
	s.mu.Unlock()

	demand := true
	for i := range msgs {
		s.mu.Lock()
		ended := s.ended
		s.mu.Unlock()
		if ended {
			demand = false
			break
		}
		if !s.consumer.Push(s.wrap(msgs[i])) {
			demand = false
		}
	}

	s.mu.Lock()
	s.delivering = false
	ended, endErr := s.ended, s.endErr
	s.mu.Unlock()

	// Close ran while we were pushing and left the end signal to us.
	if ended {
		s.end(endErr)
		return false
	}
	return demand
}

func (s *Stream) terminate(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.endErr = err
	if s.stopRetry != nil {
		s.stopRetry()
		s.stopRetry = nil
	}
	s.retrying = false
	deferred := s.delivering
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if !deferred {
		s.end(err)
	}
}

func (s *Stream) end(err error) {
	if err != nil {
		s.logger.Info("stream ended", zap.Error(err))
	} else {
		s.logger.Info("stream ended")
	}
	s.observer.Ended(err)
	s.consumer.End(err)
}

func (s *Stream) idle() {
	if i, ok := s.consumer.(Idler); ok {
		i.Idle()
	}
}

func (s *Stream) wrap(m sqstypes.Message) *Message {
	return &Message{
		Message:  m,
		QueueURL: s.queueURL,
		client:   s.client,
		ctx:      context.WithoutCancel(s.ctx),
		timeout:  s.cfg.AckTimeout,
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
