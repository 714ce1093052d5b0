package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

//
// Fakes
//

type receiveResult struct {
	out *sqs.ReceiveMessageOutput
	err error
}

// receiveCall is one pending ReceiveMessage. The test resolves it.
type receiveCall struct {
	in    *sqs.ReceiveMessageInput
	reply chan receiveResult
}

func (c *receiveCall) respond(msgs ...sqstypes.Message) {
	c.reply <- receiveResult{out: &sqs.ReceiveMessageOutput{Messages: msgs}}
}

func (c *receiveCall) fail(err error) {
	c.reply <- receiveResult{err: err}
}

type fakeSQS struct {
	calls chan *receiveCall

	mu          sync.Mutex
	receives    int
	inflight    int
	maxInflight int

	deletes []*sqs.DeleteMessageInput
	delErr  error

	visibility []*sqs.ChangeMessageVisibilityInput
	visErr     error

	delBatchCalls int
	delBatchSizes []int
	delBatchIDs   [][]string
	delBatchRHs   [][]string
	delBatchErr   error
	delBatchFail  bool

	visBatchCalls   int
	visBatchSizes   []int
	visBatchIDs     [][]string
	visBatchTimeout int32
	visBatchErr     error
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{calls: make(chan *receiveCall, 16)}
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.receives++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()

	call := &receiveCall{in: in, reply: make(chan receiveResult, 1)}
	f.calls <- call

	var res receiveResult
	select {
	case res = <-call.reply:
	case <-ctx.Done():
		res = receiveResult{err: ctx.Err()}
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	return res.out, res.err
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, in)
	if f.delErr != nil {
		return nil, f.delErr
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.delBatchCalls++
	f.delBatchSizes = append(f.delBatchSizes, len(in.Entries))
	ids := make([]string, 0, len(in.Entries))
	rhs := make([]string, 0, len(in.Entries))
	for _, e := range in.Entries {
		ids = append(ids, aws.ToString(e.Id))
		rhs = append(rhs, aws.ToString(e.ReceiptHandle))
	}
	f.delBatchIDs = append(f.delBatchIDs, ids)
	f.delBatchRHs = append(f.delBatchRHs, rhs)

	if f.delBatchErr != nil {
		return nil, f.delBatchErr
	}
	out := &sqs.DeleteMessageBatchOutput{}
	if f.delBatchFail && len(in.Entries) > 0 {
		out.Failed = []sqstypes.BatchResultErrorEntry{{
			Id:      in.Entries[0].Id,
			Code:    aws.String("InternalError"),
			Message: aws.String("boom"),
		}}
	}
	return out, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibility = append(f.visibility, in)
	if f.visErr != nil {
		return nil, f.visErr
	}
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibilityBatch(ctx context.Context, in *sqs.ChangeMessageVisibilityBatchInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visBatchCalls++
	f.visBatchSizes = append(f.visBatchSizes, len(in.Entries))
	ids := make([]string, 0, len(in.Entries))
	for _, e := range in.Entries {
		ids = append(ids, aws.ToString(e.Id))
	}
	f.visBatchIDs = append(f.visBatchIDs, ids)
	if len(in.Entries) > 0 {
		f.visBatchTimeout = in.Entries[0].VisibilityTimeout
	}
	if f.visBatchErr != nil {
		return nil, f.visBatchErr
	}
	return &sqs.ChangeMessageVisibilityBatchOutput{}, nil
}

// next waits for the next ReceiveMessage call.
func (f *fakeSQS) next(t *testing.T) *receiveCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a ReceiveMessage call")
		return nil
	}
}

// expectNoCall fails if ReceiveMessage is called within d.
func (f *fakeSQS) expectNoCall(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-f.calls:
		t.Fatalf("unexpected ReceiveMessage call")
	case <-time.After(d):
	}
}

func (f *fakeSQS) stats() (receives, maxInflight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receives, f.maxInflight
}

type recordingConsumer struct {
	mu     sync.Mutex
	pushed []*Message
	ends   []error
	// accept decides the Push result for the n-th push (0-based).
	accept func(n int) bool

	pushedCh chan struct{}
	endedCh  chan struct{}
}

func newRecordingConsumer() *recordingConsumer {
	return &recordingConsumer{
		pushedCh: make(chan struct{}, 1024),
		endedCh:  make(chan struct{}, 16),
	}
}

func (c *recordingConsumer) Push(m *Message) bool {
	c.mu.Lock()
	n := len(c.pushed)
	c.pushed = append(c.pushed, m)
	accept := c.accept
	c.mu.Unlock()
	c.pushedCh <- struct{}{}
	if accept == nil {
		return true
	}
	return accept(n)
}

func (c *recordingConsumer) End(err error) {
	c.mu.Lock()
	c.ends = append(c.ends, err)
	c.mu.Unlock()
	c.endedCh <- struct{}{}
}

func (c *recordingConsumer) bodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.pushed))
	for _, m := range c.pushed {
		out = append(out, m.Text())
	}
	return out
}

func (c *recordingConsumer) endErrs() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.ends...)
}

func (c *recordingConsumer) waitPushed(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.pushedCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d pushes, got %d", n, i)
		}
	}
}

func (c *recordingConsumer) waitEnded(t *testing.T) {
	t.Helper()
	select {
	case <-c.endedCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected End")
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	fetched  []int
	retries  []error
	delays   []time.Duration
	ended    []error
	retryCh  chan struct{}
	fetchErr int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{retryCh: make(chan struct{}, 64)}
}

func (o *recordingObserver) Fetched(n int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetched = append(o.fetched, n)
	if err != nil {
		o.fetchErr++
	}
}

func (o *recordingObserver) Retrying(err error, d time.Duration) {
	o.mu.Lock()
	o.retries = append(o.retries, err)
	o.delays = append(o.delays, d)
	o.mu.Unlock()
	o.retryCh <- struct{}{}
}

func (o *recordingObserver) Ended(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, err)
}

func (o *recordingObserver) waitRetry(t *testing.T) {
	t.Helper()
	select {
	case <-o.retryCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a retry notification")
	}
}

func (o *recordingObserver) retryDelays() []time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]time.Duration(nil), o.delays...)
}

// fakeTimers replaces time.AfterFunc so retries fire only when the test says so.
type fakeTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
	added  chan struct{}
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{added: make(chan struct{}, 64)}
}

func (ft *fakeTimers) after(d time.Duration, f func()) func() bool {
	ft.mu.Lock()
	idx := len(ft.fns)
	ft.delays = append(ft.delays, d)
	ft.fns = append(ft.fns, f)
	ft.mu.Unlock()
	ft.added <- struct{}{}
	return func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		stopped := ft.fns[idx] != nil
		ft.fns[idx] = nil
		return stopped
	}
}

// fireNext waits for the next scheduled timer and runs it.
func (ft *fakeTimers) fireNext(t *testing.T) time.Duration {
	t.Helper()
	select {
	case <-ft.added:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a scheduled retry")
	}
	ft.mu.Lock()
	idx := len(ft.fns) - 1
	f, d := ft.fns[idx], ft.delays[idx]
	ft.fns[idx] = nil
	ft.mu.Unlock()
	if f != nil {
		f()
	}
	return d
}

//
// Helpers
//

const testQueueURL = "https://sqs.eu-west-1.amazonaws.com/123456789012/test-queue"

func testConfig() Config {
	return Config{
		QueueURL: testQueueURL,
		Retry:    RetryConfig{InitialBackoff: time.Millisecond},
	}
}

func newTestStream(t *testing.T, f *fakeSQS, cfg Config, c Consumer) (*Stream, *fakeTimers, *recordingObserver) {
	t.Helper()
	obs := newRecordingObserver()
	s, err := New(context.Background(), f, cfg, c, WithObserver(obs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ft := newFakeTimers()
	s.after = ft.after
	t.Cleanup(s.Close)
	return s, ft, obs
}

func fixture(bodies ...string) []sqstypes.Message {
	out := make([]sqstypes.Message, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, sqstypes.Message{
			MessageId:     aws.String("id-" + b),
			ReceiptHandle: aws.String("RECEIPT_" + b),
			Body:          aws.String(b),
			Attributes:    map[string]string{"ApproximateReceiveCount": "1", "SentTimestamp": "1700000000000"},
		})
	}
	return out
}
