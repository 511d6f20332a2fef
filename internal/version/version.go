// Package version reports the firmware build identity.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// These variables can be set at build time via ldflags:
//
//	go build -ldflags="-X github.com/muurk/lumen/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/lumen/internal/version.Commit=abc123"
//
// If not set, they are populated from VCS build info when available,
// or fall back to "dev" with the build time.
var (
	// Version is the firmware version reported on /device_info
	Version = ""
	// Commit is the git commit hash
	Commit = ""
)

// Info is the build identity exposed by the control surface and metrics.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func init() {
	if Version == "" || Commit == "" {
		populateFromBuildInfo()
	}
	if Version == "" {
		Version = fmt.Sprintf("dev-%s", time.Now().Format("20060102-150405"))
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func populateFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	if rev := settings["vcs.revision"]; Commit == "" && rev != "" {
		if len(rev) > 7 {
			rev = rev[:7]
		}
		if settings["vcs.modified"] == "true" {
			rev += "-dirty"
		}
		Commit = rev
	}

	// Module versions are only stamped for `go install pkg@version` builds.
	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
		return
	}
	if Version == "" {
		if t, err := time.Parse(time.RFC3339, settings["vcs.time"]); err == nil {
			Version = fmt.Sprintf("dev-%s", t.Format("20060102"))
		}
	}
}

// Current returns the build identity of the running image.
func Current() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Full returns the full version string including commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}
