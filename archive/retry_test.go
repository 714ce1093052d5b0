package archive

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestExponentialRetry_SucceedsFirstTry(t *testing.T) {
	var calls int32
	r := ExponentialRetry{Attempts: 5, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}

	err := r.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want=1", calls)
	}
}

func TestExponentialRetry_RetriesUntilSuccess(t *testing.T) {
	var calls int32
	r := ExponentialRetry{Attempts: 10, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond, Jitter: true}

	err := r.Do(context.Background(), func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want=3", calls)
	}
}

func TestExponentialRetry_ReturnsLastError(t *testing.T) {
	var calls int32
	r := ExponentialRetry{Attempts: 4, BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}

	sentinel := errors.New("boom")
	err := r.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("calls=%d want=4", calls)
	}
}

func TestExponentialRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	var calls int32
	_ = ExponentialRetry{}.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("fail")
	})
	if calls != 1 {
		t.Fatalf("calls=%d want=1", calls)
	}
}

func TestExponentialRetry_StopsOnCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := ExponentialRetry{Attempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	var calls int32
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("fail")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Do did not return after cancel")
	}
	if calls != 1 {
		t.Fatalf("calls=%d want=1", calls)
	}
}

func TestExponentialRetry_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ExponentialRetry{Attempts: 3}.Do(ctx, func(ctx context.Context) error {
		t.Fatalf("fn must not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
