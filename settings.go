package meshnode

import "time"

const (
	DefaultAnnounceInterval = 3 * time.Hour
	MinAnnounceInterval     = time.Minute
)

// Settings are the cross-cutting runtime options read at every
// reconfiguration.
type Settings struct {
	// PreferOwnInstance disables joining a shared runtime instance.
	PreferOwnInstance bool `yaml:"prefer_own_instance"`
	// RPCKey is the remote-control key for the shared instance, if any.
	RPCKey string `yaml:"rpc_key,omitempty"`
	// EnableTransport lets the runtime route for other nodes. Defaults to true.
	EnableTransport *bool `yaml:"enable_transport,omitempty"`

	DisplayName      string        `yaml:"display_name,omitempty"`
	AnnounceInterval time.Duration `yaml:"announce_interval,omitempty"`
}

// TransportEnabled returns EnableTransport, defaulting to true.
func (s Settings) TransportEnabled() bool {
	if s.EnableTransport == nil {
		return true
	}
	return *s.EnableTransport
}

// Interval returns the announce interval clamped to MinAnnounceInterval.
func (s Settings) Interval() time.Duration {
	switch {
	case s.AnnounceInterval <= 0:
		return DefaultAnnounceInterval
	case s.AnnounceInterval < MinAnnounceInterval:
		return MinAnnounceInterval
	default:
		return s.AnnounceInterval
	}
}
