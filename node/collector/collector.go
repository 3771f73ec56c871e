// Package collector persists inbound messages received by the runtime.
package collector

import (
	"context"
	"log/slog"
	"sync/atomic"

	"meshnode"
	"meshnode/internal/check"
	"meshnode/internal/worker"
	"meshnode/node/lifecycle"
)

// Source delivers inbound messages until ctx is done.
type Source interface {
	SubscribeMessages(ctx context.Context) <-chan meshnode.Message
}

// Store persists messages. Saving a message twice is not an error.
type Store interface {
	SaveMessage(ctx context.Context, msg meshnode.Message) error
}

// Collector reads the runtime's receive path while started.
type Collector struct {
	source Source
	store  Store
	log    *slog.Logger

	guard *lifecycle.Guard
	loop  worker.Loop
	saved atomic.Int64
}

// New creates a stopped Collector.
func New(source Source, store Store) *Collector {
	check.Assert(source != nil, "collector.New: source must not be nil")
	check.Assert(store != nil, "collector.New: store must not be nil")

	c := &Collector{
		source: source,
		store:  store,
		log:    slog.With("component", "collector"),
		loop:   worker.Loop{Name: "collector"},
	}
	c.guard = lifecycle.NewGuard("collector", c.start, c.loop.Stop)
	return c
}

// StartCollecting subscribes to inbound messages. It is a no-op when
// already collecting. The subscription outlives ctx.
func (c *Collector) StartCollecting(ctx context.Context) error {
	return c.guard.Start(ctx)
}

// StopCollecting ends the subscription and waits for in-flight saves.
func (c *Collector) StopCollecting(ctx context.Context) error {
	return c.guard.Stop(ctx)
}

// Saved returns how many messages were persisted since creation.
func (c *Collector) Saved() int64 {
	return c.saved.Load()
}

func (c *Collector) start(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	messages := c.source.SubscribeMessages(subCtx)

	if err := c.loop.Start(subCtx, func(ctx context.Context) error {
		defer cancel()
		return c.run(ctx, messages)
	}); err != nil {
		cancel()
		return err
	}
	return nil
}

func (c *Collector) run(ctx context.Context, messages <-chan meshnode.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				c.log.Debug("message stream closed")
				return nil
			}
			if err := c.store.SaveMessage(ctx, msg); err != nil {
				c.log.Error("save message failed", "id", msg.ID, "from", msg.SourceHash, "err", err)
				continue
			}
			c.saved.Add(1)
		}
	}
}
