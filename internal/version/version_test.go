package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve_FallsBackToVCS(t *testing.T) {
	build := resolve(&debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}})

	require.Equal(t, "dev", build.Version)
	require.Equal(t, "0123456789ab", build.Commit)
	require.Equal(t, "2026-03-01T10:00:00Z", build.Date)
	require.True(t, build.Dirty)
	require.Equal(t, runtime.Version(), build.GoVersion)
	require.Equal(t, "dev (0123456789ab, 2026-03-01T10:00:00Z, "+runtime.Version()+") dirty", build.String())
}

func TestResolve_LinkerValuesWin(t *testing.T) {
	t.Cleanup(func() { version, commit, date = "dev", "", "" })
	version, commit, date = "v1.4.0", "abc123", "2026-02-02"

	build := resolve(&debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffff"}}})
	require.Equal(t, Build{Version: "v1.4.0", Commit: "abc123", Date: "2026-02-02", GoVersion: runtime.Version()}, build)
}

func TestResolve_WithoutBuildInfo(t *testing.T) {
	build := resolve(nil)
	require.Equal(t, "unknown", build.Commit)
	require.Equal(t, "unknown", build.Date)
	require.False(t, build.Dirty)
}

func TestCurrentFields(t *testing.T) {
	build := Current()
	require.Equal(t, build, Current())

	fields := build.Fields()
	require.Equal(t, build.Version, fields["version"])
	require.Equal(t, build.Commit, fields["commit"])
	require.Equal(t, build.Date, fields["build_date"])
	require.Equal(t, build.GoVersion, fields["go_version"])
}
