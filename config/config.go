// Package config handles the node file: runtime settings and the ordered
// interface list.
//
// The file is stored at $XDG_CONFIG_HOME/meshnode/node.yaml (defaults to
// ~/.config/meshnode/node.yaml). It is re-read on every reconfiguration, so
// edits take effect on the next apply.
package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"meshnode"

	"gopkg.in/yaml.v3"
)

const fileName = "node.yaml"

// File is the on-disk node configuration.
type File struct {
	Settings   meshnode.Settings     `yaml:"settings"`
	Interfaces meshnode.InterfaceSet `yaml:"interfaces"`
}

// Default is written on first run: one auto-discovery interface on the
// local network.
func Default() *File {
	return &File{
		Interfaces: meshnode.InterfaceSet{{
			Name:    "Default Interface",
			Kind:    meshnode.AutoInterface,
			Enabled: true,
		}},
	}
}

// Path returns the node file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/meshnode/node.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "meshnode", fileName)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "meshnode", fileName)
}

// DataDir returns where the node keeps its database and runtime files.
// It respects XDG_DATA_HOME, falling back to ~/.local/share/meshnode.
func DataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "share", "meshnode")
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "meshnode")
}

// Load reads the node file. If the file does not exist, an empty File is
// returned (not an error).
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read node config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse node config %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the file, creating directories as needed. The write goes
// through a rename so watchers never see a partial file.
func (f *File) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal node config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write node config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace node config: %w", err)
	}
	return nil
}

// Hash covers everything a rendered runtime config depends on: settings and
// the enabled interfaces in order. Disabled entries do not count.
func (f *File) Hash() string {
	data, _ := yaml.Marshal(File{Settings: f.Settings, Interfaces: f.Interfaces.Enabled()})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Set adds iface, or replaces the entry with the same name.
func (f *File) Set(iface meshnode.InterfaceConfig) {
	for i := range f.Interfaces {
		if f.Interfaces[i].Name == iface.Name {
			f.Interfaces[i] = iface
			return
		}
	}
	f.Interfaces = append(f.Interfaces, iface)
}

// Remove deletes the interface called name. Returns an error if the name
// doesn't exist.
func (f *File) Remove(name string) error {
	for i := range f.Interfaces {
		if f.Interfaces[i].Name == name {
			f.Interfaces = append(f.Interfaces[:i], f.Interfaces[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("interface %q not found", name)
}

// FileSource reads interfaces and settings from the node file on every call.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Load(ctx context.Context) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(s.path)
}

// EnabledInterfaces returns the enabled interfaces in file order.
func (s *FileSource) EnabledInterfaces(ctx context.Context) (meshnode.InterfaceSet, error) {
	f, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return f.Interfaces.Enabled(), nil
}

func (s *FileSource) Settings(ctx context.Context) (meshnode.Settings, error) {
	f, err := s.Load(ctx)
	if err != nil {
		return meshnode.Settings{}, err
	}
	return f.Settings, nil
}
