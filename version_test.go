package tracker

import (
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	for _, want := range []string{"covidtrack", Version, GitCommit, GoVersion} {
		if !strings.Contains(v, want) {
			t.Errorf("GetVersion() = %q, want it to contain %q", v, want)
		}
	}
}

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	for _, key := range []string{"version", "commit", "build_date", "go_version"} {
		if info[key] == "" {
			t.Errorf("GetVersionInfo()[%q] is empty", key)
		}
	}
	if info["version"] != Version {
		t.Errorf("version = %q, want %q", info["version"], Version)
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "covidtrack/"+Version {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestGetVersion_LdflagsOverride(t *testing.T) {
	oldCommit, oldDate := GitCommit, BuildDate
	t.Cleanup(func() { GitCommit, BuildDate = oldCommit, oldDate })

	GitCommit = "0123456789abcdef0123"
	BuildDate = "2026-01-01T00:00:00Z"
	v := GetVersion()
	if !strings.Contains(v, "commit: 0123456789ab,") {
		t.Errorf("GetVersion() = %q, want commit truncated to 12 characters", v)
	}
	if !strings.Contains(v, "built: 2026-01-01T00:00:00Z") {
		t.Errorf("GetVersion() = %q", v)
	}
}
