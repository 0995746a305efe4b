// Package version reports build metadata.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden at build time:
//
//	go build -ldflags "-X github.com/soyeahso/easiwork/internal/version.Version=1.0.0 \
//	  -X github.com/soyeahso/easiwork/internal/version.Commit=$(git rev-parse HEAD) \
//	  -X github.com/soyeahso/easiwork/internal/version.Date=$(date -u +%F)"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info describes the build on one line. Commit and date fall back to the
// VCS stamp in the binary when not set by ldflags.
func Info() string {
	commit, date, dirty := Commit, Date, false
	if bi, ok := debug.ReadBuildInfo(); ok {
		commit, date, dirty = fromSettings(bi.Settings, commit, date)
	}
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("easiwork %s (commit: %s, built: %s, %s/%s)",
		Version, commit, date, runtime.GOOS, runtime.GOARCH)
}

// fromSettings fills unknown commit and date from vcs build settings and
// shortens the commit hash.
func fromSettings(settings []debug.BuildSetting, commit, date string) (string, string, bool) {
	dirty := false
	fromVCS := commit == "unknown"
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if fromVCS {
				commit = s.Value
			}
		case "vcs.time":
			if date == "unknown" {
				date = s.Value
			}
		case "vcs.modified":
			dirty = fromVCS && s.Value == "true"
		}
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return commit, date, dirty
}
