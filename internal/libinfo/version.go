/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package libinfo reports the version of the keyprobe module found in the build info.
package libinfo

import (
	"debug/buildinfo"
	"regexp"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ModulePath is the path of the keyprobe module.
const ModulePath = "github.com/acronis/go-keyprobe"

// PrometheusVersionLabel is the name of the const label carrying the module version.
const PrometheusVersionLabel = "keyprobe_version"

const develVersion = "(devel)"

var (
	version     string
	versionOnce sync.Once
)

// AddPrometheusVersionLabel returns a copy of labels with the module version label added.
func AddPrometheusVersionLabel(labels prometheus.Labels) prometheus.Labels {
	labelsCopy := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		labelsCopy[k] = v
	}
	labelsCopy[PrometheusVersionLabel] = GetVersion()
	return labelsCopy
}

// GetVersion returns the module version, "v0.0.0" for local builds.
func GetVersion() string {
	versionOnce.Do(func() {
		if buildInfo, ok := debug.ReadBuildInfo(); ok {
			version = extractVersion(buildInfo, ModulePath)
		}
		if version == "" {
			version = "v0.0.0"
		}
	})
	return version
}

// extractVersion looks for the module as the main module (the keyprobe command) or as a dependency.
// The module path may carry a major version suffix ("/v2").
func extractVersion(buildInfo *buildinfo.BuildInfo, modPath string) string {
	if buildInfo == nil {
		return ""
	}
	re, err := regexp.Compile(`^` + regexp.QuoteMeta(modPath) + `(/v[0-9]+)?$`)
	if err != nil {
		return ""
	}
	if re.MatchString(buildInfo.Main.Path) && buildInfo.Main.Version != develVersion {
		return buildInfo.Main.Version
	}
	for _, dep := range buildInfo.Deps {
		if re.MatchString(dep.Path) {
			return dep.Version
		}
	}
	return ""
}
