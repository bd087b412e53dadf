package cmd

import (
	"runtime/debug"
	"testing"
)

func TestRevisionFrom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings []debug.BuildSetting
		want     string
	}{
		{
			name: "clean build",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123456789abcdef01234567"},
				{Key: "vcs.modified", Value: "false"},
			},
			want: "0123456789ab",
		},
		{
			name: "dirty build",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123456789abcdef01234567"},
				{Key: "vcs.modified", Value: "true"},
			},
			want: "0123456789ab-dirty",
		},
		{
			name: "short revision kept as-is",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc123"},
			},
			want: "abc123",
		},
		{
			name:     "no stamp",
			settings: []debug.BuildSetting{{Key: "GOOS", Value: "linux"}},
			want:     "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := revisionFrom(tt.settings); got != tt.want {
				t.Errorf("revisionFrom() = %q, want %q", got, tt.want)
			}
		})
	}
}
