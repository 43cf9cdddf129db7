package tilegemm

import (
	"runtime/debug"
	"testing"
)

func TestModuleVersion(t *testing.T) {
	tests := []struct {
		name        string
		info        debug.BuildInfo
		wantVersion string
		wantSum     string
	}{
		{
			name:        "MainModule",
			info:        debug.BuildInfo{Main: debug.Module{Path: root, Version: "(devel)"}},
			wantVersion: "(devel)",
		},
		{
			name: "Dependency",
			info: debug.BuildInfo{Deps: []*debug.Module{
				{Path: "example.com/other", Version: "v9.0.0"},
				{Path: root, Version: "v0.3.1", Sum: "h1:abc"},
			}},
			wantVersion: "v0.3.1",
			wantSum:     "h1:abc",
		},
		{
			name: "ReplacedByPath",
			info: debug.BuildInfo{Deps: []*debug.Module{
				{Path: root, Version: "v0.3.1", Replace: &debug.Module{Path: "../tilegemm"}},
			}},
			wantVersion: "v0.3.1=>../tilegemm",
		},
		{
			name: "ReplacedByVersion",
			info: debug.BuildInfo{Deps: []*debug.Module{
				{Path: root, Version: "v0.3.1", Replace: &debug.Module{Version: "v0.3.2", Sum: "h1:def"}},
			}},
			wantVersion: "v0.3.1=>v0.3.2",
			wantSum:     "h1:def",
		},
		{
			name:        "Absent",
			info:        debug.BuildInfo{Main: debug.Module{Path: "example.com/app"}},
			wantVersion: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, sum := moduleVersion(&tt.info)
			if version != tt.wantVersion || sum != tt.wantSum {
				t.Errorf("moduleVersion() = %q, %q, want %q, %q", version, sum, tt.wantVersion, tt.wantSum)
			}
		})
	}
}
