/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package libinfo

import (
	"debug/buildinfo"
	"runtime/debug"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		name        string
		buildInfo   *buildinfo.BuildInfo
		expectedVer string
	}{
		{
			name:        "main module",
			buildInfo:   &buildinfo.BuildInfo{Main: debug.Module{Path: ModulePath, Version: "v0.3.1"}},
			expectedVer: "v0.3.1",
		},
		{
			name: "main module, local build",
			buildInfo: &buildinfo.BuildInfo{
				Main: debug.Module{Path: ModulePath, Version: develVersion},
			},
			expectedVer: "",
		},
		{
			name: "dependency",
			buildInfo: &buildinfo.BuildInfo{
				Main: debug.Module{Path: "example.com/validator", Version: "v1.0.0"},
				Deps: []*debug.Module{{Path: ModulePath, Version: "v1.2.3"}},
			},
			expectedVer: "v1.2.3",
		},
		{
			name: "dependency, v2",
			buildInfo: &buildinfo.BuildInfo{
				Deps: []*debug.Module{{Path: ModulePath + "/v2", Version: "v2.0.0"}},
			},
			expectedVer: "v2.0.0",
		},
		{
			name: "not found",
			buildInfo: &buildinfo.BuildInfo{
				Deps: []*debug.Module{{Path: ModulePath + "-extra", Version: "v1.0.0"}},
			},
			expectedVer: "",
		},
		{
			name:        "nil build info",
			expectedVer: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expectedVer, extractVersion(tt.buildInfo, ModulePath))
		})
	}
}

func TestAddPrometheusVersionLabel(t *testing.T) {
	labels := prometheus.Labels{"instance": "a"}
	got := AddPrometheusVersionLabel(labels)
	require.Equal(t, prometheus.Labels{"instance": "a", PrometheusVersionLabel: GetVersion()}, got)
	require.Len(t, labels, 1)
	require.NotEmpty(t, GetVersion())
}
