package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meshnode"
	"meshnode/internal/watch"
	"meshnode/internal/worker"
	"meshnode/node/lifecycle"
)

type memStore struct {
	mu       sync.Mutex
	msgs     []meshnode.Message
	attempts int
	err      error
}

func (s *memStore) SaveMessage(_ context.Context, msg meshnode.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

type topicSource struct {
	topic watch.Topic[meshnode.Message]
}

func (s *topicSource) SubscribeMessages(ctx context.Context) <-chan meshnode.Message {
	return s.topic.Subscribe(ctx)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCollectorSavesWhileStarted(t *testing.T) {
	src := &topicSource{}
	store := &memStore{}
	c := New(src, store)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.StartCollecting(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	src.topic.Publish(meshnode.Message{ID: "m1"})
	eventually(t, func() bool { return store.count() == 1 })
	if c.Saved() != 1 {
		t.Errorf("Saved: got %d, want 1", c.Saved())
	}

	if err := c.StopCollecting(context.Background()); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return src.topic.Subscribers() == 0 })

	src.topic.Publish(meshnode.Message{ID: "m2"})
	time.Sleep(10 * time.Millisecond)
	if store.count() != 1 {
		t.Errorf("messages saved after stop: got %d, want 1", store.count())
	}
}

func TestCollectorIdempotent(t *testing.T) {
	src := &topicSource{}
	c := New(src, &memStore{})
	ctx := context.Background()

	for range 2 {
		if err := c.StartCollecting(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if n := src.topic.Subscribers(); n != 1 {
		t.Errorf("subscribers: got %d, want 1", n)
	}
	for range 2 {
		if err := c.StopCollecting(ctx); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCollectorSaveErrorKeepsRunning(t *testing.T) {
	src := &topicSource{}
	store := &memStore{err: errors.New("disk full")}
	c := New(src, store)
	ctx := context.Background()

	if err := c.StartCollecting(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.StopCollecting(ctx)

	src.topic.Publish(meshnode.Message{ID: "lost"})
	eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.attempts == 1
	})

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	src.topic.Publish(meshnode.Message{ID: "kept"})
	eventually(t, func() bool { return store.count() == 1 })
}

// stuckStore blocks every save until release is closed, ignoring ctx.
type stuckStore struct {
	release chan struct{}
	entered chan struct{}
	live    atomic.Int32
	peak    atomic.Int32
	saved   atomic.Int32
}

func (s *stuckStore) SaveMessage(context.Context, meshnode.Message) error {
	if n := s.live.Add(1); n > s.peak.Load() {
		s.peak.Store(n)
	}
	defer s.live.Add(-1)
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	s.saved.Add(1)
	return nil
}

func TestCollectorRestartWaitsForStuckSave(t *testing.T) {
	src := &topicSource{}
	store := &stuckStore{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := New(src, store)

	if err := c.StartCollecting(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.topic.Publish(meshnode.Message{ID: "m1"})
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.StopCollecting(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("StopCollecting: got %v, want deadline exceeded", err)
	}
	if got := c.guard.State(); got != lifecycle.Stopping {
		t.Errorf("state after timed out stop: got %s, want stopping", got)
	}
	if err := c.StartCollecting(context.Background()); !errors.Is(err, worker.ErrStopping) {
		t.Fatalf("StartCollecting while stopping: got %v, want ErrStopping", err)
	}

	close(store.release)
	if err := c.StopCollecting(context.Background()); err != nil {
		t.Fatalf("retried StopCollecting: %v", err)
	}
	if err := c.StartCollecting(context.Background()); err != nil {
		t.Fatalf("StartCollecting after stop: %v", err)
	}
	defer c.StopCollecting(context.Background())

	src.topic.Publish(meshnode.Message{ID: "m2"})
	eventually(t, func() bool { return store.saved.Load() == 2 })
	if p := store.peak.Load(); p != 1 {
		t.Errorf("concurrent saves: peak %d, want 1", p)
	}
}
