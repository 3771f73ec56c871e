// Package worker owns a single background goroutine with a Start/Stop
// lifecycle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrRunning is returned by Start while the goroutine is alive.
	ErrRunning = errors.New("worker already running")
	// ErrStopping is returned by Start when a previous Stop gave up waiting
	// and the old goroutine has not exited yet.
	ErrStopping = errors.New("worker still stopping")
)

// Loop runs one goroutine at a time. The zero value is ready to use.
type Loop struct {
	Name string

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// Start launches run in a background goroutine bound to a child of ctx.
// It never launches while a previous goroutine is still alive.
func (l *Loop) Start(ctx context.Context, run func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		select {
		case <-l.done:
		default:
			if l.stopping {
				return fmt.Errorf("start %s: %w", l.Name, ErrStopping)
			}
			return fmt.Errorf("start %s: %w", l.Name, ErrRunning)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done, l.stopping = cancel, done, false

	go func() {
		defer close(done)
		defer cancel()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker exited", "worker", l.Name, "err", err)
		}
	}()
	return nil
}

// Stop cancels the goroutine and waits for it to exit or for ctx to end.
// When ctx ends first the loop stays marked as stopping until the goroutine
// exits; call Stop again to keep waiting. Stopping a loop that is not
// running is a no-op.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	if done != nil {
		l.stopping = true
	}
	l.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", l.Name, ctx.Err())
	}

	l.mu.Lock()
	if l.done == done {
		l.cancel, l.done, l.stopping = nil, nil, false
	}
	l.mu.Unlock()
	return nil
}

// Running reports whether the goroutine is still alive.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Every calls fn once immediately and then on every tick until ctx is done.
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
