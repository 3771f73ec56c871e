package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"meshnode"
)

func sampleFile() *File {
	return &File{
		Settings: meshnode.Settings{DisplayName: "field kit", AnnounceInterval: 30 * time.Minute},
		Interfaces: meshnode.InterfaceSet{
			{Name: "Local", Kind: meshnode.AutoInterface, Enabled: true},
			{Name: "Hub", Kind: meshnode.TCPClientInterface, Enabled: false, TargetHost: "hub.example", TargetPort: 4965},
			{Name: "Radio", Kind: meshnode.RNodeInterface, Enabled: true, ConnectionMode: meshnode.RNodeSerial, SerialPort: "/dev/ttyUSB0"},
		},
	}
}

func TestLoadMissingFile(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(f.Interfaces) != 0 || f.Settings.DisplayName != "" {
		t.Errorf("missing file should load empty, got %+v", f)
	}
	if !f.Settings.TransportEnabled() {
		t.Error("transport should default to enabled")
	}
}

func TestSaveLoadKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", fileName)
	if err := sampleFile().Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if want := []string{"Local", "Hub", "Radio"}; !slices.Equal(got.Interfaces.Names(), want) {
		t.Errorf("names = %v, want %v", got.Interfaces.Names(), want)
	}
	if got.Settings.AnnounceInterval != 30*time.Minute {
		t.Errorf("announce interval = %v, want 30m", got.Settings.AnnounceInterval)
	}
	if got.Hash() != sampleFile().Hash() {
		t.Error("hash changed across save and load")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestLoadHandwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), fileName)
	data := `settings:
  prefer_own_instance: true
  enable_transport: false
  announce_interval: 2h
interfaces:
  - name: Default
    type: AutoInterface
    enabled: true
    group_id: field
  - name: LoRa
    type: RNodeInterface
    enabled: true
    connection_mode: tcp
    tcp_host: 10.0.0.9
    frequency: 868000000
    bandwidth: 125000
    st_alock: 12.5
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !f.Settings.PreferOwnInstance || f.Settings.TransportEnabled() {
		t.Errorf("settings = %+v", f.Settings)
	}
	if f.Settings.AnnounceInterval != 2*time.Hour {
		t.Errorf("announce interval = %v, want 2h", f.Settings.AnnounceInterval)
	}
	lora := f.Interfaces[1]
	if lora.Kind != meshnode.RNodeInterface || lora.TCPHost != "10.0.0.9" || lora.STALock == nil || *lora.STALock != 12.5 {
		t.Errorf("LoRa = %+v", lora)
	}
	if f.Interfaces[0].GroupID != "field" {
		t.Errorf("group id = %q, want field", f.Interfaces[0].GroupID)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), fileName)
	if err := os.WriteFile(path, []byte("interfaces: {not: [a list"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail on malformed yaml")
	}
}

func TestHashIgnoresDisabled(t *testing.T) {
	a := sampleFile()
	b := sampleFile()
	b.Interfaces[1].TargetHost = "elsewhere.example"
	if a.Hash() != b.Hash() {
		t.Error("editing a disabled interface should not change the hash")
	}
	b.Interfaces[1].Enabled = true
	if a.Hash() == b.Hash() {
		t.Error("enabling an interface should change the hash")
	}
	c := sampleFile()
	c.Settings.PreferOwnInstance = true
	if a.Hash() == c.Hash() {
		t.Error("settings should count toward the hash")
	}
}

func TestSetRemove(t *testing.T) {
	f := sampleFile()
	f.Set(meshnode.InterfaceConfig{Name: "Hub", Kind: meshnode.TCPClientInterface, Enabled: true})
	f.Set(meshnode.InterfaceConfig{Name: "Backhaul", Kind: meshnode.UDPInterface})
	if want := []string{"Local", "Hub", "Radio", "Backhaul"}; !slices.Equal(f.Interfaces.Names(), want) {
		t.Errorf("names = %v, want %v", f.Interfaces.Names(), want)
	}
	if !f.Interfaces[1].Enabled {
		t.Error("Set should replace the existing entry")
	}
	if err := f.Remove("Radio"); err != nil {
		t.Fatal(err)
	}
	if err := f.Remove("Radio"); err == nil {
		t.Error("removing a missing interface should fail")
	}
}

func TestFileSourceRereads(t *testing.T) {
	path := filepath.Join(t.TempDir(), fileName)
	src := NewFileSource(path)
	ctx := context.Background()

	set, err := src.EnabledInterfaces(ctx)
	if err != nil || len(set) != 0 {
		t.Fatalf("EnabledInterfaces() on missing file = %v, %v", set, err)
	}

	if err := sampleFile().Save(path); err != nil {
		t.Fatal(err)
	}
	set, err = src.EnabledInterfaces(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Local", "Radio"}; !slices.Equal(set.Names(), want) {
		t.Errorf("enabled = %v, want %v", set.Names(), want)
	}
	settings, err := src.Settings(ctx)
	if err != nil || settings.DisplayName != "field kit" {
		t.Errorf("Settings() = %+v, %v", settings, err)
	}
}

func TestDefaultHasOneEnabledInterface(t *testing.T) {
	set := Default().Interfaces.Enabled()
	if len(set) != 1 || set[0].Kind != meshnode.AutoInterface {
		t.Errorf("Default() interfaces = %+v", set)
	}
}
