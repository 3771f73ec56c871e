// Package announce periodically announces the active identity.
package announce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meshnode"
	"meshnode/internal/check"
	"meshnode/internal/worker"
	"meshnode/node/lifecycle"
)

// Announcer sends an announce for id on every bound interface.
type Announcer interface {
	Announce(ctx context.Context, id meshnode.Identity, appData []byte) error
}

type IdentitySource interface {
	ActiveIdentity(ctx context.Context) (*meshnode.Identity, error)
}

type SettingsSource interface {
	Settings(ctx context.Context) (meshnode.Settings, error)
}

// Manager announces once on start and then every announce interval.
type Manager struct {
	announcer  Announcer
	identities IdentitySource
	settings   SettingsSource
	log        *slog.Logger

	guard *lifecycle.Guard
	loop  worker.Loop
}

// Option configures a Manager.
type Option func(*Manager)

// WithSettings makes the interval follow the settings' announce interval.
func WithSettings(s SettingsSource) Option {
	return func(m *Manager) { m.settings = s }
}

// New creates a stopped Manager.
func New(announcer Announcer, identities IdentitySource, opts ...Option) *Manager {
	check.Assert(announcer != nil, "announce.New: announcer must not be nil")
	check.Assert(identities != nil, "announce.New: identities must not be nil")

	m := &Manager{
		announcer:  announcer,
		identities: identities,
		log:        slog.With("component", "auto-announce"),
		loop:       worker.Loop{Name: "auto-announce"},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.guard = lifecycle.NewGuard("auto-announce", m.start, m.loop.Stop)
	return m
}

// Start begins announcing. The loop outlives ctx; Stop ends it.
func (m *Manager) Start(ctx context.Context) error { return m.guard.Start(ctx) }

// Stop ends the loop and waits for it.
func (m *Manager) Stop(ctx context.Context) error { return m.guard.Stop(ctx) }

// AnnounceNow announces the active identity once.
func (m *Manager) AnnounceNow(ctx context.Context) error {
	id, err := m.identities.ActiveIdentity(ctx)
	if err != nil {
		return fmt.Errorf("read active identity: %w", err)
	}
	if id == nil {
		m.log.Debug("no active identity; skipping announce")
		return nil
	}
	if err := m.announcer.Announce(ctx, *id, []byte(id.DisplayName)); err != nil {
		return fmt.Errorf("announce %s: %w", id.Hash, err)
	}
	m.log.Debug("announced", "identity", id.Hash)
	return nil
}

func (m *Manager) start(ctx context.Context) error {
	interval := m.interval(ctx)
	if err := m.loop.Start(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return worker.Every(ctx, interval, func(ctx context.Context) {
			if err := m.AnnounceNow(ctx); err != nil && ctx.Err() == nil {
				m.log.Warn("announce failed", "err", err)
			}
		})
	}); err != nil {
		return err
	}
	m.log.Debug("auto-announce started", "interval", interval)
	return nil
}

func (m *Manager) interval(ctx context.Context) time.Duration {
	if m.settings == nil {
		return meshnode.DefaultAnnounceInterval
	}
	s, err := m.settings.Settings(ctx)
	if err != nil {
		m.log.Warn("read settings failed; using default interval", "err", err)
		return meshnode.DefaultAnnounceInterval
	}
	return s.Interval()
}
