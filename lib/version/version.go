// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags -X at build time.
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	GitDirty  = ""
	BuildTime = ""
)

// build is the revision a binary was made from.
type build struct {
	commit string
	dirty  bool
	time   string
}

// current prefers the linker-injected values and falls back to the VCS
// stamp the go command records.
func current() build {
	b := build{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if b.commit != "" {
		return b
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				b.commit = setting.Value
			case "vcs.modified":
				b.dirty = setting.Value == "true"
			case "vcs.time":
				b.time = setting.Value
			}
		}
	}
	if len(b.commit) > 12 {
		b.commit = b.commit[:12]
	}
	return b
}

func (b build) String() string {
	commit := b.commit
	if commit == "" {
		commit = "unknown"
	}
	if b.dirty {
		commit += "-dirty"
	}
	if b.time == "" {
		return fmt.Sprintf("%s (%s)", Version, commit)
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, b.time)
}

// Info returns the version with its commit, e.g.
// "0.1.0-dev (abc1234-dirty, 2026-03-01T12:00:00Z)".
func Info() string { return current().String() }

// Short returns the bare version number.
func Short() string { return Version }

// Print writes the --version output for binary to w.
func Print(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n  Go: %s\n  Platform: %s/%s\n",
		binary, Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
