package node

import (
	"context"

	"meshnode"
	"meshnode/config"
	"meshnode/node/announce"
	"meshnode/node/collector"
	"meshnode/node/propagation"
	"meshnode/node/reconfig"
	"meshnode/node/resolution"
)

// Runtime is the protocol runtime with everything its dependents use.
type Runtime interface {
	reconfig.Runtime
	reconfig.Reseeder
	announce.Announcer
	resolution.PathRequester
	collector.Source
	propagation.Source
}

// Store is the node's persistence.
type Store interface {
	reconfig.IdentitySource
	reconfig.PeerSource
	reconfig.AnnounceSource
	collector.Store
	propagation.RelayStore
	LoadOrCreateIdentity(ctx context.Context, displayName string) (meshnode.Identity, error)
}

// Config supplies the interfaces and settings read at every reconfiguration.
type Config interface {
	reconfig.InterfaceSource
	reconfig.SettingsSource
}

// ChangeSource streams effective config changes until ctx is done.
type ChangeSource interface {
	Watch(ctx context.Context) (<-chan config.Change, error)
}

// LinkWatcher runs until ctx is done, requesting reconfigurations itself.
type LinkWatcher interface {
	Run(ctx context.Context) error
}

// Health reports whether the last reconfiguration succeeded.
type Health interface {
	SetServing(ok bool)
}
