package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/HerbHall/sftphook/pkg/plugin"
)

func TestInfo(t *testing.T) {
	info := Info()
	if !strings.HasPrefix(info, "sftphook ") {
		t.Errorf("Info() should start with 'sftphook', got: %s", info)
	}
	if !strings.Contains(info, plugin.APIVersion) {
		t.Errorf("Info() should contain the plugin API version, got: %s", info)
	}
	if !strings.Contains(info, runtime.Version()) {
		t.Errorf("Info() should contain Go version, got: %s", info)
	}
}

func TestShort(t *testing.T) {
	if got := Short(); got != "dev" {
		t.Errorf("Short() = %q, want %q (default)", got, "dev")
	}
}

func TestCommitPrefersLdflags(t *testing.T) {
	old := GitCommit
	t.Cleanup(func() { GitCommit = old })

	GitCommit = "abc1234"
	if got := Commit(); got != "abc1234" {
		t.Errorf("Commit() = %q, want abc1234", got)
	}
}

func TestMap(t *testing.T) {
	m := Map()

	requiredKeys := []string{"version", "git_commit", "build_date", "plugin_api", "go_version", "os", "arch"}
	for _, key := range requiredKeys {
		if _, ok := m[key]; !ok {
			t.Errorf("Map() missing key %q", key)
		}
	}

	if m["version"] != "dev" {
		t.Errorf("Map()[\"version\"] = %q, want %q", m["version"], "dev")
	}
	if m["plugin_api"] != plugin.APIVersion {
		t.Errorf("Map()[\"plugin_api\"] = %q, want %q", m["plugin_api"], plugin.APIVersion)
	}
	if m["go_version"] != runtime.Version() {
		t.Errorf("Map()[\"go_version\"] = %q, want %q", m["go_version"], runtime.Version())
	}
}
