package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromBuildInfo(t *testing.T) {
	tests := []struct {
		name    string
		info    *debug.BuildInfo
		version string
		commit  string
	}{
		{
			name: "tagged clean build",
			info: &debug.BuildInfo{
				Main:     debug.Module{Version: "v1.4.0"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}},
			},
			version: "v1.4.0",
			commit:  "0123456",
		},
		{
			name: "dirty devel build",
			info: &debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "abc"},
					{Key: "vcs.modified", Value: "true"},
				},
			},
			version: "",
			commit:  "abc-dirty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldV, oldC := Version, Commit
			t.Cleanup(func() { Version, Commit = oldV, oldC })
			Version, Commit = "", ""

			fromBuildInfo(func() (*debug.BuildInfo, bool) { return tt.info, true })
			assert.Equal(t, tt.version, Version)
			assert.Equal(t, tt.commit, Commit)
		})
	}
}

func TestLdflagsWin(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })
	Version, Commit = "v9", "feed"

	fromBuildInfo(func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "v1"}}, true
	})
	assert.Equal(t, "v9 (commit: feed)", Full())
}
