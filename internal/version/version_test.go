package version

import (
	"runtime"
	"strings"
	"testing"
)

func withBuild(t *testing.T, v, commit, date string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = v, commit, date
	t.Cleanup(func() { Version, Commit, Date = origVersion, origCommit, origDate })
}

func TestGetInfo(t *testing.T) {
	withBuild(t, "1.0.0", "abc123def456", "2026-01-01T12:00:00Z")

	info := GetInfo()
	if info.Version != "1.0.0" || info.Commit != "abc123def456" || info.Date != "2026-01-01T12:00:00Z" {
		t.Errorf("GetInfo() = %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %s, want %s", info.GoVersion, runtime.Version())
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Platform = %s", info.Platform)
	}
}

func TestString(t *testing.T) {
	withBuild(t, "1.0.0", "abc123def456", "2026-01-01")

	s := GetInfo().String()
	for _, want := range []string{"stocktake 1.0.0", "(abc123de)", "built 2026-01-01"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
	if got := GetInfo().Short(); got != "1.0.0" {
		t.Errorf("Short() = %q", got)
	}
}

func TestShortCommitIsKept(t *testing.T) {
	withBuild(t, "1.0.0", "abc", "today")
	if s := GetInfo().String(); !strings.Contains(s, "(abc)") {
		t.Errorf("String() = %q", s)
	}
}
