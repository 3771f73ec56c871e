package reconfig

import (
	"context"
	"time"

	"meshnode"
	"meshnode/node/runtimeconfig"
)

// Runtime is the live protocol runtime. It cannot change interfaces while
// running, so every reconfiguration is a full Shutdown then Initialize.
type Runtime interface {
	// Shutdown stops all interfaces. It is a no-op when already stopped.
	Shutdown(ctx context.Context) error
	// Initialize binds the configured interfaces. On failure nothing is
	// left bound.
	Initialize(ctx context.Context, cfg runtimeconfig.Config) error
}

// InterfaceSource supplies the currently enabled interfaces.
type InterfaceSource interface {
	EnabledInterfaces(ctx context.Context) (meshnode.InterfaceSet, error)
}

// SettingsSource supplies cross-cutting runtime options.
type SettingsSource interface {
	Settings(ctx context.Context) (meshnode.Settings, error)
}

// IdentitySource returns the active identity, or nil when there is none.
type IdentitySource interface {
	ActiveIdentity(ctx context.Context) (*meshnode.Identity, error)
}

// PeerSource returns every peer identity known from conversations.
type PeerSource interface {
	PeerIdentities(ctx context.Context) ([]meshnode.PeerIdentity, error)
}

// AnnounceSource returns every stored announce.
type AnnounceSource interface {
	Announces(ctx context.Context) ([]meshnode.Announce, error)
}

// Collector consumes inbound messages from the runtime. Both calls are
// idempotent.
type Collector interface {
	StartCollecting(ctx context.Context) error
	StopCollecting(ctx context.Context) error
}

// Subsystem is a dependent background manager with idempotent Start/Stop.
type Subsystem interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ScopedSubsystem is started with a long-lived scope that outlives the call
// which started it. Stop cancels only the subsystem's own work.
type ScopedSubsystem interface {
	Start(scope context.Context) error
	Stop(ctx context.Context) error
}

// Reseeder hands gathered identity and peer state to a freshly initialized
// runtime.
type Reseeder interface {
	Reseed(ctx context.Context, state meshnode.ReseedState) error
}

// ConfigBuilder turns an interface snapshot and settings into a runtime config.
type ConfigBuilder func(set meshnode.InterfaceSet, settings meshnode.Settings) (runtimeconfig.Config, error)

// Recorder observes reconfiguration outcomes.
type Recorder interface {
	ObserveApply(err error, elapsed time.Duration)
	ObservePhaseError(phase Phase)
	SetRuntimeUp(up bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveApply(error, time.Duration) {}
func (nopRecorder) ObservePhaseError(Phase)           {}
func (nopRecorder) SetRuntimeUp(bool)                 {}
