// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"syscall"
	_ "unsafe" // required for go:linkname.

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/spawnd/lib/fdmap"
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// childAttr is everything the child needs, prepared in the parent so
// that nothing after clone allocates.
type childAttr struct {
	argv        []*byte
	env         []*byte
	candidates  []*byte
	dir         *byte
	entries     []fdmap.Entry
	keepSession bool
	ctty        int

	// reportFd is the number the report pipe is moved to in the child
	// when it would otherwise collide with the plan. -1 leaves it alone.
	reportFd int
}

// reportSize is the size of the failure record written by the child:
// two native-endian uint32 values, stage then errno.
const reportSize = 8

// Start creates a child process as described by attr and returns its
// pid once execve has succeeded. The caller owns reaping the child.
//
// A setup failure in the child is returned as a *ChildError after the
// child has been reaped. Descriptors in attr.Fds are left open in the
// launcher; closing them is the caller's business.
func Start(attr *Attr) (int, error) {
	if len(attr.Argv) == 0 {
		return 0, ErrNoArgv
	}

	child, err := prepare(attr)
	if err != nil {
		return 0, err
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC); err != nil {
		return 0, fmt.Errorf("creating report pipe: %w", err)
	}
	child.reportFd = -1
	if limit := max(fdmap.MaxFd(child.entries), 2); pipe[1] <= limit {
		child.reportFd = limit + 1
	}

	pid, errno := forkAndExecInChild(child, pipe)

	afterFork()
	syscall.ForkLock.Unlock()

	unix.Close(pipe[1])
	if errno != 0 {
		unix.Close(pipe[0])
		return 0, &ChildError{Stage: StageClone, Errno: errno}
	}

	report, err := readReport(pipe[0])
	unix.Close(pipe[0])
	if err != nil {
		reapFailed(int(pid))
		return 0, fmt.Errorf("reading child report: %w", err)
	}
	if report != nil {
		reapFailed(int(pid))
		return 0, report
	}
	return int(pid), nil
}

func prepare(attr *Attr) (*childAttr, error) {
	argv, err := syscall.SlicePtrFromStrings(attr.Argv)
	if err != nil {
		return nil, fmt.Errorf("argv: %w", err)
	}
	env, err := syscall.SlicePtrFromStrings(attr.Env)
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	candidates, err := syscall.SlicePtrFromStrings(searchCandidates(attr.Argv[0], attr.Env))
	if err != nil {
		return nil, fmt.Errorf("program path: %w", err)
	}

	var dir *byte
	if attr.Dir != "" {
		if dir, err = syscall.BytePtrFromString(attr.Dir); err != nil {
			return nil, fmt.Errorf("working directory: %w", err)
		}
	}

	child := &childAttr{
		argv:        argv,
		env:         env,
		candidates:  candidates[:len(candidates)-1],
		dir:         dir,
		entries:     attr.Fds,
		keepSession: attr.KeepSession,
		ctty:        -1,
	}
	if !attr.KeepSession {
		child.ctty = controllingTerminal(attr.Fds)
	}
	return child, nil
}

// readReport reads the child's failure record. A nil *ChildError with a
// nil error means the pipe reached end of file: execve succeeded.
func readReport(fd int) (*ChildError, error) {
	var buffer [reportSize]byte
	total := 0
	for total < reportSize {
		n, err := unix.Read(fd, buffer[total:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		total += n
	}

	switch total {
	case 0:
		return nil, nil
	case reportSize:
		return &ChildError{
			Stage: Stage(binary.NativeEndian.Uint32(buffer[0:4])),
			Errno: syscall.Errno(binary.NativeEndian.Uint32(buffer[4:8])),
		}, nil
	default:
		return nil, fmt.Errorf("short report (%d bytes)", total)
	}
}

// reapFailed collects a child that reported a setup failure so it does
// not linger as a zombie. The child exits on its own right after
// writing the report.
func reapFailed(pid int) {
	var status unix.WaitStatus
	_, err := unix.Wait4(pid, &status, 0, nil)
	for errors.Is(err, unix.EINTR) {
		_, err = unix.Wait4(pid, &status, 0, nil)
	}
}

// AwaitExit blocks until the process has exited without reaping it.
// The pid stays reserved as a zombie until Wait collects it, so it
// cannot be handed to another process in between.
func AwaitExit(pid int) error {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}

// Wait reaps the process and returns its raw wait status, blocking
// until it exits.
func Wait(pid int) (unix.WaitStatus, error) {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return status, err
	}
}

// Signal delivers sig to pid. With group set, and pid leading its own
// process group, the whole group receives it; otherwise only pid does.
func Signal(pid int, sig syscall.Signal, group bool) error {
	if group {
		if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
			return unix.Kill(-pid, sig)
		}
	}
	return unix.Kill(pid, sig)
}
