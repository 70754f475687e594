package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// These variables can be set at build time via ldflags:
//
//	go build -ldflags="-X github.com/muurk/wsinspect/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/wsinspect/internal/version.Commit=abc123"
//
// If not set, they will be populated from git info at runtime (if available),
// or fall back to "dev" with a timestamp.
var (
	// Version is the semantic version of the application
	Version = ""
	// Commit is the git commit hash
	Commit = ""
)

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

// populateFromBuildInfo reads VCS settings stamped into the binary by the
// go command when built from a git checkout.
func populateFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	applyVCS(settings["vcs.revision"], settings["vcs.modified"] == "true", settings["vcs.time"])
}

func applyVCS(revision string, modified bool, vcsTime string) {
	if Commit == "" && revision != "" {
		Commit = revision
		if len(Commit) > 7 {
			Commit = Commit[:7]
		}
		if modified {
			Commit += "-dirty"
		}
	}

	// Build info carries no tags, so the best we can do is the commit date
	if Version == "" && vcsTime != "" {
		if t, err := time.Parse(time.RFC3339, vcsTime); err == nil {
			Version = fmt.Sprintf("dev-%s", t.Format("20060102"))
		}
	}
}

// Full returns the full version string including commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// String returns the line printed by the version subcommands,
// e.g. "wsinspect v1.0.0 (commit: abc1234, go1.22.1 linux/amd64)".
func String(program string) string {
	return fmt.Sprintf("%s %s (commit: %s, %s %s/%s)",
		program, Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent returns the value clients send in the User-Agent header
func UserAgent(program string) string {
	return program + "/" + Version
}
