// Package buildinfo reports the version baked into the binary.
package buildinfo

import "runtime/debug"

// Version is set with -ldflags "-X meshnode/internal/buildinfo.Version=...".
// When unset it falls back to the module version, then "dev".
var Version = moduleVersion()

func moduleVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
