// Package watch fans events out to context-bound subscribers.
package watch

import (
	"context"
	"sync"
)

const (
	subscriberBufferCap = 128
	replayBufferCap     = 64
)

// Topic delivers every published value to every live subscriber. Publishing
// never blocks: a subscriber whose buffer is full misses the value.
// The zero value is ready to use.
type Topic[T any] struct {
	// Replay, when set, hands each new subscriber the most recent values.
	Replay bool

	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	replay []T
	closed bool
	done   chan struct{}
}

// Subscribe returns a channel that receives values until ctx is done or the
// topic is closed; then the channel is closed.
func (t *Topic[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, subscriberBufferCap)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch
	}
	if t.subs == nil {
		t.subs = make(map[uint64]chan T)
		t.done = make(chan struct{})
	}
	done := t.done
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	for _, v := range t.replay {
		select {
		case ch <- v:
		default:
		}
	}
	t.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			t.unsubscribe(id)
		case <-done:
		}
	}()
	return ch
}

// Publish sends v to every subscriber.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if t.Replay {
		t.replay = appendReplay(t.replay, v)
	}
	for _, sub := range t.subs {
		select {
		case sub <- v:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	if t.done != nil {
		close(t.done)
	}
	for id, sub := range t.subs {
		delete(t.subs, id)
		close(sub)
	}
	t.replay = nil
}

func (t *Topic[T]) unsubscribe(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.subs[id]; ok {
		delete(t.subs, id)
		close(ch)
	}
}

func appendReplay[T any](replay []T, v T) []T {
	if len(replay) < replayBufferCap {
		return append(replay, v)
	}
	copy(replay, replay[1:])
	replay[len(replay)-1] = v
	return replay
}
