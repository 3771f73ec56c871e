package watch

import (
	"context"
	"testing"
	"time"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func waitClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed")
		}
	}
}

func TestTopicFanOut(t *testing.T) {
	var topic Topic[int]
	ctx := context.Background()

	a := topic.Subscribe(ctx)
	b := topic.Subscribe(ctx)
	topic.Publish(7)

	if got := receive(t, a); got != 7 {
		t.Errorf("a: got %d, want 7", got)
	}
	if got := receive(t, b); got != 7 {
		t.Errorf("b: got %d, want 7", got)
	}
}

func TestTopicUnsubscribeOnCancel(t *testing.T) {
	var topic Topic[string]
	ctx, cancel := context.WithCancel(context.Background())

	ch := topic.Subscribe(ctx)
	cancel()
	waitClosed(t, ch)

	if n := topic.Subscribers(); n != 0 {
		t.Errorf("subscribers after cancel: got %d, want 0", n)
	}
	topic.Publish("after")
}

func TestTopicReplay(t *testing.T) {
	topic := Topic[int]{Replay: true}
	for i := range replayBufferCap + 3 {
		topic.Publish(i)
	}

	ch := topic.Subscribe(context.Background())
	if got := receive(t, ch); got != 3 {
		t.Errorf("first replayed value: got %d, want 3", got)
	}
}

func TestTopicClose(t *testing.T) {
	var topic Topic[int]
	ch := topic.Subscribe(context.Background())

	topic.Close()
	waitClosed(t, ch)

	late := topic.Subscribe(context.Background())
	waitClosed(t, late)
	topic.Publish(1)
}

func TestTopicSlowSubscriberDoesNotBlock(t *testing.T) {
	var topic Topic[int]
	_ = topic.Subscribe(context.Background())

	done := make(chan struct{})
	go func() {
		for i := range subscriberBufferCap * 2 {
			topic.Publish(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
