// Package version reports build information for the sftphook binaries.
// Variables are injected at build time via ldflags:
//
//	-X github.com/HerbHall/sftphook/internal/version.Version=1.0.0
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/HerbHall/sftphook/pkg/plugin"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a formatted version string suitable for version output.
func Info() string {
	return fmt.Sprintf("sftphook %s (commit: %s, built: %s, plugin api: %s, go: %s)",
		Version, GitCommit, BuildDate, plugin.APIVersion, runtime.Version())
}

// Short returns just the version string (e.g., "0.1.0" or "dev").
func Short() string {
	return Version
}

// Commit returns GitCommit, falling back to the VCS revision recorded by
// the Go toolchain when ldflags did not set it.
func Commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	return GitCommit
}

// Map returns version info as a map for JSON and YAML output.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": Commit(),
		"build_date": BuildDate,
		"plugin_api": plugin.APIVersion,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
