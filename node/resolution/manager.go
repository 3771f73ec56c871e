// Package resolution requests paths to conversation peers whose public key
// is still unknown, so their identities can be recalled from announces.
package resolution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"meshnode"
	"meshnode/internal/check"
	"meshnode/internal/worker"
	"meshnode/node/lifecycle"
)

const (
	DefaultInterval   = time.Minute
	DefaultRetryAfter = 5 * time.Minute
)

type PeerSource interface {
	PeerIdentities(ctx context.Context) ([]meshnode.PeerIdentity, error)
}

// PathRequester asks the network for a path to a destination.
type PathRequester interface {
	RequestPath(ctx context.Context, destinationHash string) error
}

// Manager runs under the application scope it is started with. Stop ends
// only the manager's own loop, never the scope.
type Manager struct {
	peers     PeerSource
	requester PathRequester
	interval  time.Duration
	retry     time.Duration
	now       func() time.Time
	log       *slog.Logger

	guard *lifecycle.Guard
	loop  worker.Loop

	mu        sync.Mutex
	requested map[string]time.Time
}

type Option func(*Manager)

// WithInterval sets how often unresolved peers are checked.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithRetryAfter sets the minimum time between path requests for one peer.
func WithRetryAfter(d time.Duration) Option {
	return func(m *Manager) { m.retry = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(peers PeerSource, requester PathRequester, opts ...Option) *Manager {
	check.Assert(peers != nil, "resolution.New: peers must not be nil")
	check.Assert(requester != nil, "resolution.New: requester must not be nil")

	m := &Manager{
		peers:     peers,
		requester: requester,
		interval:  DefaultInterval,
		retry:     DefaultRetryAfter,
		now:       time.Now,
		log:       slog.With("component", "identity-resolution"),
		loop:      worker.Loop{Name: "identity-resolution"},
		requested: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.guard = lifecycle.NewGuard("identity-resolution", m.start, m.loop.Stop)
	return m
}

// Start launches resolution bound to scope. Cancelling scope also ends it.
func (m *Manager) Start(scope context.Context) error { return m.guard.Start(scope) }

func (m *Manager) Stop(ctx context.Context) error { return m.guard.Stop(ctx) }

func (m *Manager) start(scope context.Context) error {
	return m.loop.Start(scope, func(ctx context.Context) error {
		return worker.Every(ctx, m.interval, m.ResolveOnce)
	})
}

// ResolveOnce requests a path for every unresolved peer not asked for
// within the retry window.
func (m *Manager) ResolveOnce(ctx context.Context) {
	peers, err := m.peers.PeerIdentities(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Warn("read peers failed", "err", err)
		}
		return
	}

	now := m.now()
	for _, peer := range peers {
		if peer.Resolved() || !m.due(peer.Hash, now) {
			continue
		}
		if err := m.requester.RequestPath(ctx, peer.Hash); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Debug("path request failed", "peer", peer.Hash, "err", err)
			continue
		}
		m.mark(peer.Hash, now)
	}
	m.forgetResolved(peers)
}

func (m *Manager) due(hash string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.requested[hash]
	return !ok || now.Sub(last) >= m.retry
}

func (m *Manager) mark(hash string, now time.Time) {
	m.mu.Lock()
	m.requested[hash] = now
	m.mu.Unlock()
}

func (m *Manager) forgetResolved(peers []meshnode.PeerIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range peers {
		if p.Resolved() {
			delete(m.requested, p.Hash)
		}
	}
}
