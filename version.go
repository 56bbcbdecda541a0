package tracker

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build metadata, normally set with -ldflags "-X".
var (
	Version   = "v0.1.0"
	GitCommit = ""
	BuildDate = ""
	GoVersion = runtime.Version()
)

// buildSetting reads a vcs.* setting stamped by the go tool.
func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

func commit() string {
	c := GitCommit
	if c == "" {
		c = buildSetting("vcs.revision")
	}
	if c == "" {
		return "unknown"
	}
	if len(c) > 12 {
		c = c[:12]
	}
	return c
}

func buildDate() string {
	d := BuildDate
	if d == "" {
		d = buildSetting("vcs.time")
	}
	if d == "" {
		return "unknown"
	}
	return d
}

// GetVersion returns the one-line version banner.
func GetVersion() string {
	return fmt.Sprintf("covidtrack %s (commit: %s, built: %s, go: %s)", Version, commit(), buildDate(), GoVersion)
}

// GetVersionInfo returns build metadata for JSON output.
func GetVersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     commit(),
		"build_date": buildDate(),
		"go_version": GoVersion,
	}
}

// UserAgent is sent on every API request unless overridden.
func UserAgent() string {
	return "covidtrack/" + Version
}
