package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestApplyBuildSettings(t *testing.T) {
	tests := []struct {
		name       string
		info       Info
		settings   []debug.BuildSetting
		wantCommit string
		wantDate   string
	}{
		{
			name: "fills unknown fields",
			info: Info{GitCommit: "unknown", BuildDate: "unknown"},
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef"},
				{Key: "vcs.time", Value: "2025-01-27T10:30:00Z"},
			},
			wantCommit: "0123456",
			wantDate:   "2025-01-27T10:30:00Z",
		},
		{
			name:       "ldflags win",
			info:       Info{GitCommit: "a1b2c3d", BuildDate: "2024-12-01"},
			settings:   []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}},
			wantCommit: "a1b2c3d",
			wantDate:   "2024-12-01",
		},
		{
			name:       "short revision ignored",
			info:       Info{GitCommit: "unknown", BuildDate: "unknown"},
			settings:   []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
			wantCommit: "unknown",
			wantDate:   "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.info
			applyBuildSettings(&info, tt.settings)
			if info.GitCommit != tt.wantCommit || info.BuildDate != tt.wantDate {
				t.Errorf("got commit=%q date=%q, want %q %q", info.GitCommit, info.BuildDate, tt.wantCommit, tt.wantDate)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	s := Get().Summary()
	if !strings.HasPrefix(s, "encodedeck "+Version) {
		t.Errorf("Summary() = %q", s)
	}
}
