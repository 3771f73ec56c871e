// Package runtimeconfig builds the protocol runtime's config file from an
// interface snapshot and settings.
package runtimeconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"meshnode"
)

const (
	defaultLogLevel    = 4
	defaultPort        = 4242
	defaultTargetHost  = "127.0.0.1"
	defaultListenIP    = "0.0.0.0"
	defaultForwardIP   = "255.255.255.255"
	defaultBLEMaxConns = 7
	blePortPrefix      = "ble://"
	maxPort            = 65535
)

// Entry is one key = value line inside a section.
type Entry struct {
	Key   string
	Value string
}

// Section is one rendered [[Name]] interface block.
type Section struct {
	Name    string
	Kind    meshnode.InterfaceKind
	Entries []Entry
}

// Skipped records an enabled interface left out of the config.
type Skipped struct {
	Name   string
	Reason string
}

// Config is an immutable runtime configuration. The zero value renders a
// runtime with no interfaces.
type Config struct {
	transport bool
	share     bool
	rpcKey    string
	logLevel  int
	sections  []Section
	skipped   []Skipped

	text        string
	fingerprint string
}

// Build renders set and settings into a Config. Disabled interfaces are
// ignored. Interfaces that cannot be rendered are skipped and logged; only
// invalid settings fail the build.
func Build(set meshnode.InterfaceSet, settings meshnode.Settings) (Config, error) {
	key := strings.TrimSpace(settings.RPCKey)
	if key != "" {
		if _, err := hex.DecodeString(key); err != nil {
			return Config{}, fmt.Errorf("rpc key must be hex: %w", err)
		}
	}

	cfg := Config{
		transport: settings.TransportEnabled(),
		share:     !settings.PreferOwnInstance,
		rpcKey:    strings.ToLower(key),
		logLevel:  defaultLogLevel,
	}

	used := make(map[string]bool, len(set))
	for _, iface := range set {
		if !iface.Enabled {
			continue
		}
		name := sectionName(iface)

		entries, err := interfaceEntries(iface)
		if err != nil {
			cfg.skipped = append(cfg.skipped, Skipped{Name: name, Reason: err.Error()})
			if iface.Kind.Known() {
				slog.Error("skipping interface", "name", name, "type", iface.Kind, "err", err)
			} else {
				slog.Warn("skipping interface", "name", name, "type", iface.Kind, "err", err)
			}
			continue
		}

		base := name
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s %d", base, n)
		}
		used[name] = true
		cfg.sections = append(cfg.sections, Section{Name: name, Kind: iface.Kind, Entries: entries})
	}

	cfg.text = cfg.render()
	sum := sha256.Sum256([]byte(cfg.text))
	cfg.fingerprint = hex.EncodeToString(sum[:])
	return cfg, nil
}

// Render returns the config file contents.
func (c Config) Render() string {
	if c.text == "" {
		return c.render()
	}
	return c.text
}

// Fingerprint returns the hex sha256 of Render.
func (c Config) Fingerprint() string {
	if c.fingerprint == "" {
		sum := sha256.Sum256([]byte(c.Render()))
		return hex.EncodeToString(sum[:])
	}
	return c.fingerprint
}

// InterfaceNames returns the rendered section names in order.
func (c Config) InterfaceNames() []string {
	names := make([]string, len(c.sections))
	for i, s := range c.sections {
		names[i] = s.Name
	}
	return names
}

// Sections returns a copy of the rendered interface sections.
func (c Config) Sections() []Section {
	out := make([]Section, len(c.sections))
	for i, s := range c.sections {
		s.Entries = slices.Clone(s.Entries)
		out[i] = s
	}
	return out
}

// Skipped returns the enabled interfaces that were left out.
func (c Config) Skipped() []Skipped {
	return slices.Clone(c.skipped)
}

func (c Config) TransportEnabled() bool { return c.transport }
func (c Config) ShareInstance() bool    { return c.share }
func (c Config) RPCKey() string         { return c.rpcKey }

func sectionName(iface meshnode.InterfaceConfig) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '\n', '\r':
			return -1
		}
		return r
	}, iface.Name)
	name = strings.TrimSpace(name)
	if name == "" {
		name = string(iface.Kind)
	}
	if name == "" {
		name = "Interface"
	}
	return name
}
