// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// These variables are set via -ldflags at build time.
var (
	GitCommit = ""
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

var (
	stampOnce     sync.Once
	stampedCommit string
	stampedDirty  bool
)

func vcsStamp() (string, bool) {
	stampOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				stampedCommit = setting.Value
				if len(stampedCommit) > 12 {
					stampedCommit = stampedCommit[:12]
				}
			case "vcs.modified":
				stampedDirty = setting.Value == "true"
			}
		}
	})
	return stampedCommit, stampedDirty
}

// Commit returns the git commit of the build, or "unknown".
func Commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	commit, dirty := vcsStamp()
	switch {
	case commit == "":
		return "unknown"
	case dirty:
		return commit + "-dirty"
	default:
		return commit
	}
}

// Info returns a formatted version string suitable for --version
// output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit(), BuildTime)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
