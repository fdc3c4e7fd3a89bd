// Package version reports the build identity of the gstdots binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time with -ldflags "-X github.com/conneroisu/gstdots/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"git_commit,omitempty" yaml:"git_commit,omitempty"`
	Dirty     bool      `json:"dirty,omitempty" yaml:"dirty,omitempty"`
	BuildTime time.Time `json:"build_time,omitempty" yaml:"build_time,omitempty"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
}

// Get merges the ldflags values with what the Go toolchain embedded.
func Get() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		info.BuildTime = t
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "vcs.time":
			if info.BuildTime.IsZero() {
				info.BuildTime, _ = time.Parse(time.RFC3339, s.Value)
			}
		}
	}
	return info
}

// Short is a one-word version for logs and the status endpoint.
func (b BuildInfo) Short() string {
	if len(b.GitCommit) < 7 {
		return b.Version
	}
	commit := b.GitCommit[:7]
	if b.Dirty {
		commit += "-dirty"
	}
	if b.Version == "dev" {
		return "dev-" + commit
	}
	return fmt.Sprintf("%s (%s)", b.Version, commit)
}

// String is the multi-line form printed by the version command.
func (b BuildInfo) String() string {
	lines := []string{"gstdots " + b.Version}
	if b.GitCommit != "" {
		lines = append(lines, "commit: "+b.GitCommit)
	}
	if !b.BuildTime.IsZero() {
		lines = append(lines, "built:  "+b.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "go:     "+b.GoVersion, "os:     "+b.Platform)
	return strings.Join(lines, "\n")
}

// IsRelease reports whether this binary carries a release version.
func (b BuildInfo) IsRelease() bool {
	return b.Version != "dev" && !strings.HasPrefix(b.Version, "dev-")
}
