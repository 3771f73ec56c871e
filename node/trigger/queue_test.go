package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startQueue(t *testing.T, apply ApplyFunc) (*Queue, context.CancelFunc) {
	t.Helper()
	q := New(apply, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return q, cancel
}

func TestApplyRunsOnce(t *testing.T) {
	var calls atomic.Int32
	q, _ := startQueue(t, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	if err := q.Apply(context.Background(), "startup"); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}

	res := <-q.Results()
	if res.ID != 1 || res.Reason != "startup" || res.Err != nil {
		t.Errorf("result: got %+v", res)
	}
	if res.Finished.Before(res.Started) {
		t.Error("Finished before Started")
	}
}

func TestApplyReturnsRunError(t *testing.T) {
	injected := errors.New("initialize failed")
	q, _ := startQueue(t, func(context.Context) error { return injected })

	if err := q.Apply(context.Background(), "user"); !errors.Is(err, injected) {
		t.Errorf("Apply: got %v, want injected", err)
	}
}

func TestRequestsCoalesceAndNeverOverlap(t *testing.T) {
	var (
		inFlight atomic.Int32
		overlap  atomic.Bool
		calls    atomic.Int32
	)
	release := make(chan struct{})
	entered := make(chan struct{}, 8)

	q, _ := startQueue(t, func(context.Context) error {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)
		calls.Add(1)
		entered <- struct{}{}
		<-release
		return nil
	})

	first := q.Request("a")
	<-entered

	var ids []uint64
	for _, r := range []string{"b", "c", "b"} {
		ids = append(ids, q.Request(r))
	}
	for _, id := range ids {
		if id != first+1 {
			t.Errorf("pending request id: got %d, want %d", id, first+1)
		}
	}

	close(release)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := q.Apply(context.Background(), "b"); err != nil {
			t.Errorf("Apply: %v", err)
		}
	}()
	wg.Wait()

	if overlap.Load() {
		t.Error("runs overlapped")
	}
	if got := calls.Load(); got < 2 || got > 3 {
		t.Errorf("calls: got %d, want 2 or 3", got)
	}

	<-q.Results()
	second := <-q.Results()
	if second.Reason != "b, c" {
		t.Errorf("coalesced reason: got %q, want %q", second.Reason, "b, c")
	}
}

func TestApplyContextCanceled(t *testing.T) {
	release := make(chan struct{})
	q, _ := startQueue(t, func(context.Context) error {
		<-release
		return nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Apply(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Apply: got %v, want deadline exceeded", err)
	}
}

func TestQueueClosed(t *testing.T) {
	q, cancel := startQueue(t, func(context.Context) error { return nil })
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-q.Results():
			if !ok {
				if id := q.Request("late"); id != 0 {
					t.Errorf("Request after close: got id %d, want 0", id)
				}
				if err := q.Apply(context.Background(), "late"); !errors.Is(err, ErrClosed) {
					t.Errorf("Apply after close: got %v, want ErrClosed", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("results channel not closed")
		}
	}
}
