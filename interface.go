package meshnode

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// InterfaceKind names a transport the protocol runtime can bind.
// Matching is case sensitive.
type InterfaceKind string

const (
	AutoInterface       InterfaceKind = "AutoInterface"
	TCPClientInterface  InterfaceKind = "TCPClientInterface"
	TCPServerInterface  InterfaceKind = "TCPServerInterface"
	UDPInterface        InterfaceKind = "UDPInterface"
	RNodeInterface      InterfaceKind = "RNodeInterface"
	AndroidBLEInterface InterfaceKind = "AndroidBLEInterface"
)

// Known reports whether k is a kind the runtime understands.
func (k InterfaceKind) Known() bool {
	switch k {
	case AutoInterface, TCPClientInterface, TCPServerInterface, UDPInterface, RNodeInterface, AndroidBLEInterface:
		return true
	default:
		return false
	}
}

// InterfaceMode is the runtime's interface_mode. Empty means full.
type InterfaceMode string

const (
	ModeFull        InterfaceMode = "full"
	ModeGateway     InterfaceMode = "gateway"
	ModeAccessPoint InterfaceMode = "access_point"
	ModeRoaming     InterfaceMode = "roaming"
	ModeBoundary    InterfaceMode = "boundary"
)

// RNode connection modes.
const (
	RNodeSerial    = "serial"
	RNodeTCP       = "tcp"
	RNodeBluetooth = "bluetooth"
)

// InterfaceConfig is one configured transport. Only the fields relevant to
// Kind are read when the runtime config is rendered.
type InterfaceConfig struct {
	ID      string        `yaml:"id,omitempty" json:"id,omitempty"`
	Name    string        `yaml:"name" json:"name"`
	Kind    InterfaceKind `yaml:"type" json:"type"`
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Mode    InterfaceMode `yaml:"mode,omitempty" json:"mode,omitempty"`

	// AutoInterface
	GroupID        string `yaml:"group_id,omitempty" json:"group_id,omitempty"`
	DiscoveryScope string `yaml:"discovery_scope,omitempty" json:"discovery_scope,omitempty"`

	// TCPClientInterface
	TargetHost string `yaml:"target_host,omitempty" json:"target_host,omitempty"`
	TargetPort int    `yaml:"target_port,omitempty" json:"target_port,omitempty"`

	// TCPServerInterface and UDPInterface
	ListenIP    string `yaml:"listen_ip,omitempty" json:"listen_ip,omitempty"`
	ListenPort  int    `yaml:"listen_port,omitempty" json:"listen_port,omitempty"`
	ForwardIP   string `yaml:"forward_ip,omitempty" json:"forward_ip,omitempty"`
	ForwardPort int    `yaml:"forward_port,omitempty" json:"forward_port,omitempty"`

	// RNodeInterface
	ConnectionMode  string   `yaml:"connection_mode,omitempty" json:"connection_mode,omitempty"`
	TCPHost         string   `yaml:"tcp_host,omitempty" json:"tcp_host,omitempty"`
	SerialPort      string   `yaml:"port,omitempty" json:"port,omitempty"`
	Frequency       int64    `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	Bandwidth       int64    `yaml:"bandwidth,omitempty" json:"bandwidth,omitempty"`
	TxPower         int      `yaml:"tx_power,omitempty" json:"tx_power,omitempty"`
	SpreadingFactor int      `yaml:"spreading_factor,omitempty" json:"spreading_factor,omitempty"`
	CodingRate      int      `yaml:"coding_rate,omitempty" json:"coding_rate,omitempty"`
	STALock         *float64 `yaml:"st_alock,omitempty" json:"st_alock,omitempty"`
	LTALock         *float64 `yaml:"lt_alock,omitempty" json:"lt_alock,omitempty"`

	// AndroidBLEInterface
	DeviceName     string `yaml:"device_name,omitempty" json:"device_name,omitempty"`
	MaxConnections int    `yaml:"max_connections,omitempty" json:"max_connections,omitempty"`
}

// InterfaceSet is an ordered snapshot of interface configurations.
// Treat it as immutable once handed out; use Clone before editing.
type InterfaceSet []InterfaceConfig

// Enabled returns the enabled interfaces in their original order.
func (s InterfaceSet) Enabled() InterfaceSet {
	out := make(InterfaceSet, 0, len(s))
	for _, iface := range s {
		if iface.Enabled {
			out = append(out, iface.clone())
		}
	}
	return out
}

// Clone returns a deep copy of s.
func (s InterfaceSet) Clone() InterfaceSet {
	if s == nil {
		return nil
	}
	out := make(InterfaceSet, len(s))
	for i, iface := range s {
		out[i] = iface.clone()
	}
	return out
}

// Hash returns a stable content hash. Two sets with the same interfaces in
// the same order hash equal.
func (s InterfaceSet) Hash() string {
	data, _ := json.Marshal(s) // plain values only, cannot fail
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two sets hold the same interfaces in the same order.
func (s InterfaceSet) Equal(other InterfaceSet) bool {
	if len(s) != len(other) {
		return false
	}
	return s.Hash() == other.Hash()
}

// Names returns interface names in order.
func (s InterfaceSet) Names() []string {
	names := make([]string, len(s))
	for i, iface := range s {
		names[i] = iface.Name
	}
	return names
}

func (c InterfaceConfig) clone() InterfaceConfig {
	out := c
	if c.STALock != nil {
		v := *c.STALock
		out.STALock = &v
	}
	if c.LTALock != nil {
		v := *c.LTALock
		out.LTALock = &v
	}
	return out
}
