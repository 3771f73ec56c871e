// Package propagation tracks propagation node announces and selects the
// nearest one as the message relay.
package propagation

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"meshnode"
	"meshnode/internal/check"
	"meshnode/internal/worker"
	"meshnode/node/lifecycle"
)

// Source delivers live announces until ctx is done.
type Source interface {
	SubscribeAnnounces(ctx context.Context) <-chan meshnode.Announce
}

// AnnounceSource returns stored announces, used to seed candidates on start.
type AnnounceSource interface {
	Announces(ctx context.Context) ([]meshnode.Announce, error)
}

// RelayStore persists the selected relay. An empty hash clears it.
type RelayStore interface {
	Relay(ctx context.Context) (string, error)
	SetRelay(ctx context.Context, destinationHash string) error
}

// Manager keeps the propagation candidates and the selected relay.
type Manager struct {
	source Source
	stored AnnounceSource
	relays RelayStore
	log    *slog.Logger

	guard *lifecycle.Guard
	loop  worker.Loop

	mu         sync.Mutex
	candidates map[string]meshnode.Announce
	relay      string
}

func New(source Source, stored AnnounceSource, relays RelayStore) *Manager {
	check.Assert(source != nil, "propagation.New: source must not be nil")
	check.Assert(relays != nil, "propagation.New: relays must not be nil")

	m := &Manager{
		source:     source,
		stored:     stored,
		relays:     relays,
		log:        slog.With("component", "propagation"),
		loop:       worker.Loop{Name: "propagation"},
		candidates: make(map[string]meshnode.Announce),
	}
	m.guard = lifecycle.NewGuard("propagation", m.start, m.loop.Stop)
	return m
}

func (m *Manager) Start(ctx context.Context) error { return m.guard.Start(ctx) }

func (m *Manager) Stop(ctx context.Context) error { return m.guard.Stop(ctx) }

// Relay returns the selected relay destination hash, or "".
func (m *Manager) Relay() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relay
}

// Candidates returns known propagation nodes, best first.
func (m *Manager) Candidates() []meshnode.Announce {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]meshnode.Announce, 0, len(m.candidates))
	for _, a := range m.candidates {
		out = append(out, a)
	}
	slices.SortFunc(out, compare)
	return out
}

func (m *Manager) start(ctx context.Context) error {
	if relay, err := m.relays.Relay(ctx); err != nil {
		m.log.Warn("read selected relay failed", "err", err)
	} else {
		m.mu.Lock()
		m.relay = relay
		m.mu.Unlock()
	}

	if m.stored != nil {
		stored, err := m.stored.Announces(ctx)
		if err != nil {
			m.log.Warn("read stored announces failed", "err", err)
		}
		for _, a := range stored {
			m.observe(a)
		}
	}
	if err := m.reselect(ctx); err != nil {
		m.log.Warn("select relay failed", "err", err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	announces := m.source.SubscribeAnnounces(subCtx)
	if err := m.loop.Start(subCtx, func(ctx context.Context) error {
		defer cancel()
		return m.run(ctx, announces)
	}); err != nil {
		cancel()
		return err
	}
	return nil
}

func (m *Manager) run(ctx context.Context, announces <-chan meshnode.Announce) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-announces:
			if !ok {
				return nil
			}
			if !m.observe(a) {
				continue
			}
			if err := m.reselect(ctx); err != nil && ctx.Err() == nil {
				m.log.Warn("select relay failed", "err", err)
			}
		}
	}
}

// observe records a if it is a propagation announce newer than what is
// known for its destination.
func (m *Manager) observe(a meshnode.Announce) bool {
	if a.Aspect != meshnode.AspectPropagation || a.DestinationHash == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.candidates[a.DestinationHash]; ok && prev.ReceivedAt.After(a.ReceivedAt) {
		return false
	}
	m.candidates[a.DestinationHash] = a
	return true
}

// reselect picks the best candidate and persists it when it changed.
func (m *Manager) reselect(ctx context.Context) error {
	m.mu.Lock()
	best := ""
	var bestAnnounce meshnode.Announce
	for _, a := range m.candidates {
		if best == "" || compare(a, bestAnnounce) < 0 {
			best, bestAnnounce = a.DestinationHash, a
		}
	}
	if best == "" || best == m.relay {
		m.mu.Unlock()
		return nil
	}
	prev := m.relay
	m.mu.Unlock()

	if err := m.relays.SetRelay(ctx, best); err != nil {
		return fmt.Errorf("persist relay %s: %w", best, err)
	}

	m.mu.Lock()
	m.relay = best
	m.mu.Unlock()
	m.log.Info("relay selected", "relay", best, "previous", prev, "hops", bestAnnounce.Hops)
	return nil
}

// compare orders by fewest hops, then most recent, then hash.
func compare(a, b meshnode.Announce) int {
	if c := cmp.Compare(a.Hops, b.Hops); c != 0 {
		return c
	}
	if c := b.ReceivedAt.Compare(a.ReceivedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.DestinationHash, b.DestinationHash)
}
