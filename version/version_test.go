package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func saveAndRestore() func() {
	v, c, b, r := Version, GitCommit, BuildTime, readBuildInfo
	return func() {
		Version, GitCommit, BuildTime, readBuildInfo = v, c, b, r
	}
}

func fakeBuildInfo(settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{GoVersion: "go1.26.0", Settings: settings}, true
	}
}

func TestGet_StampedValuesWin(t *testing.T) {
	defer saveAndRestore()()
	Version = "1.2.0"
	GitCommit = "abc1234"
	BuildTime = "2026-01-15T10:30:00Z"
	readBuildInfo = fakeBuildInfo(
		debug.BuildSetting{Key: "vcs.revision", Value: "ffffffffffffffff"},
		debug.BuildSetting{Key: "vcs.time", Value: "2020-01-01T00:00:00Z"},
	)

	info := Get()
	if info.GitCommit != "abc1234" {
		t.Errorf("expected stamped commit, got %q", info.GitCommit)
	}
	if info.BuildTime != "2026-01-15T10:30:00Z" {
		t.Errorf("expected stamped build time, got %q", info.BuildTime)
	}
	if info.GoVersion != "go1.26.0" {
		t.Errorf("expected go1.26.0, got %q", info.GoVersion)
	}
	if !info.IsRelease() {
		t.Error("expected stamped clean build to be a release")
	}
}

func TestGet_FallsBackToVCS(t *testing.T) {
	defer saveAndRestore()()
	Version = "dev"
	GitCommit = ""
	BuildTime = ""
	readBuildInfo = fakeBuildInfo(
		debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	)

	info := Get()
	if info.GitCommit != "0123456" {
		t.Errorf("expected commit shortened to 7 chars, got %q", info.GitCommit)
	}
	if !info.Dirty {
		t.Error("expected dirty build")
	}
	if info.IsRelease() {
		t.Error("expected dev build not to be a release")
	}
	if got := info.Short(); got != "dev-0123456-dirty" {
		t.Errorf("expected 'dev-0123456-dirty', got %q", got)
	}
}

func TestGet_NoBuildInfo(t *testing.T) {
	defer saveAndRestore()()
	Version = "1.0.0"
	GitCommit = ""
	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }

	if got := Get().Short(); got != "1.0.0" {
		t.Errorf("expected '1.0.0', got %q", got)
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{Version: "1.2.0", GitCommit: "abc1234", BuildTime: "2026-01-15T10:30:00Z", GoVersion: "go1.26.0"}

	s := info.String()
	for _, want := range []string{"1.2.0-abc1234", "built 2026-01-15T10:30:00Z", "go1.26.0"} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in %q", want, s)
		}
	}
}
