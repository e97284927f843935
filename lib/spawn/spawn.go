// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/bureau-foundation/spawnd/lib/fdmap"
)

// defaultSearchPath is used when the child environment has no PATH.
const defaultSearchPath = "/usr/local/bin:/usr/bin:/bin"

// ErrNoArgv is returned by Start when Attr.Argv is empty.
var ErrNoArgv = errors.New("spawn: empty argv")

// Attr describes a process to start.
type Attr struct {
	// Argv is the argument vector. Argv[0] is resolved against the PATH
	// in Env when it contains no slash.
	Argv []string

	// Env is the complete environment of the child, as NAME=value.
	Env []string

	// Dir is the working directory of the child. Empty inherits the
	// launcher's working directory.
	Dir string

	// Fds is the descriptor plan applied in the child, normally built
	// by fdmap.Plan. Every From must be open in the launcher; all other
	// launcher descriptors above 2 are close-on-exec and vanish.
	Fds []fdmap.Entry

	// KeepSession leaves the child in the launcher's session and
	// process group. Used for a wrapped command that stands in for the
	// launcher itself.
	KeepSession bool
}

// Stage identifies the step of child setup that failed.
type Stage uint32

const (
	StageClone Stage = iota + 1
	StageSignals
	StageReportPipe
	StageRemap
	StageSession
	StageChdir
	StageExec
)

func (s Stage) String() string {
	switch s {
	case StageClone:
		return "clone"
	case StageSignals:
		return "resetting signals"
	case StageReportPipe:
		return "moving report pipe"
	case StageRemap:
		return "remapping file descriptors"
	case StageSession:
		return "creating session"
	case StageChdir:
		return "changing directory"
	case StageExec:
		return "executing"
	default:
		return fmt.Sprintf("stage %d", uint32(s))
	}
}

// ChildError reports a failure between process creation and program
// replacement. It unwraps to the errno, so errors.Is(err,
// syscall.ENOENT) works on it directly.
type ChildError struct {
	Stage Stage
	Errno syscall.Errno
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Errno)
}

func (e *ChildError) Unwrap() error { return e.Errno }

// searchCandidates returns the paths execve should try for name, in
// order, following execvp: a name containing a slash is used as is,
// otherwise each PATH element is tried and an empty element means the
// current directory.
func searchCandidates(name string, env []string) []string {
	if strings.Contains(name, "/") {
		return []string{name}
	}

	searchPath, found := "", false
	for _, entry := range env {
		if value, ok := strings.CutPrefix(entry, "PATH="); ok {
			searchPath, found = value, true
		}
	}
	if !found {
		searchPath = defaultSearchPath
	}

	var candidates []string
	for _, directory := range filepath.SplitList(searchPath) {
		if directory == "" {
			directory = "."
		}
		candidates = append(candidates, directory+"/"+name)
	}
	return candidates
}

// controllingTerminal picks the first of fds 0, 1 and 2 that will refer
// to a terminal in the child, or -1. A standard fd that the plan does
// not replace is inherited from the launcher.
func controllingTerminal(entries []fdmap.Entry) int {
	for fd := 0; fd <= 2; fd++ {
		source := fd
		for _, entry := range entries {
			if entry.Final == fd {
				source = entry.From
				break
			}
		}
		if term.IsTerminal(source) {
			return fd
		}
	}
	return -1
}
