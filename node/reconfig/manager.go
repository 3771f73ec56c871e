// Package reconfig rebuilds the protocol runtime when the enabled interface
// set changes. The runtime cannot add or remove interfaces while live, so a
// reconfiguration stops every dependent, shuts the runtime down, initializes
// it with a freshly built config, and restarts the dependents.
package reconfig

import (
	"context"
	"log/slog"
	"sync/atomic"

	"meshnode/internal/check"
	"meshnode/node/runtimeconfig"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "meshnode/node/reconfig"

// Manager sequences the stop, rebuild and restart of the runtime and its
// dependents.
//
// Stop order:  collector, auto-announce, identity resolution, propagation, runtime.
// Start order: runtime, collector, auto-announce, identity resolution, propagation.
//
// Only runtime shutdown and initialize decide the result. Everything else is
// best effort. Manager does not serialize callers; use node/trigger.
//
// Manager is a concrete struct. Tests construct a real Manager with fake
// collaborators injected via With* options.
type Manager struct {
	runtime Runtime

	interfaces InterfaceSource
	settings   SettingsSource
	identities IdentitySource
	peers      PeerSource
	announces  AnnounceSource
	reseeder   Reseeder
	build      ConfigBuilder

	collector    Collector
	autoAnnounce Subsystem
	resolution   ScopedSubsystem
	propagation  Subsystem

	// scope is the application's lifetime, handed to identity resolution.
	scope context.Context

	tracer   trace.Tracer
	recorder Recorder
	log      *slog.Logger

	inFlight atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithInterfaces injects the interface repository.
func WithInterfaces(s InterfaceSource) Option {
	return func(m *Manager) { m.interfaces = s }
}

// WithSettings injects the settings repository.
func WithSettings(s SettingsSource) Option {
	return func(m *Manager) { m.settings = s }
}

// WithIdentities injects the identity repository.
func WithIdentities(s IdentitySource) Option {
	return func(m *Manager) { m.identities = s }
}

// WithPeers injects the conversation repository.
func WithPeers(s PeerSource) Option {
	return func(m *Manager) { m.peers = s }
}

// WithAnnounces injects the announce store.
func WithAnnounces(s AnnounceSource) Option {
	return func(m *Manager) { m.announces = s }
}

// WithReseeder injects the hook that receives reseed state after initialize.
func WithReseeder(r Reseeder) Option {
	return func(m *Manager) { m.reseeder = r }
}

// WithConfigBuilder replaces runtimeconfig.Build.
func WithConfigBuilder(b ConfigBuilder) Option {
	return func(m *Manager) { m.build = b }
}

// WithCollector injects the inbound message collector.
func WithCollector(c Collector) Option {
	return func(m *Manager) { m.collector = c }
}

// WithAutoAnnounce injects the auto-announce manager.
func WithAutoAnnounce(s Subsystem) Option {
	return func(m *Manager) { m.autoAnnounce = s }
}

// WithIdentityResolution injects the identity resolution manager.
func WithIdentityResolution(s ScopedSubsystem) Option {
	return func(m *Manager) { m.resolution = s }
}

// WithPropagation injects the propagation node manager.
func WithPropagation(s Subsystem) Option {
	return func(m *Manager) { m.propagation = s }
}

// WithScope sets the application scope handed to identity resolution.
// It must outlive every ApplyInterfaceChanges call.
func WithScope(ctx context.Context) Option {
	return func(m *Manager) { m.scope = ctx }
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithRecorder injects a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// New creates a Manager for runtime.
func New(runtime Runtime, opts ...Option) *Manager {
	check.Assert(runtime != nil, "reconfig.New: runtime must not be nil")

	m := &Manager{
		runtime:  runtime,
		build:    runtimeconfig.Build,
		scope:    context.Background(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	if m.log == nil {
		m.log = slog.With("component", "reconfig")
	}
	return m
}
