// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// numSignals is _NSIG on Linux; signals are numbered 1..numSignals.
	numSignals = 64

	// sigsetSize is the kernel's sigset_t size for rt_sig* calls.
	sigsetSize = 8
)

// Read-only inputs for the child's signal reset. Package level so the
// child takes their addresses without touching the heap.
var (
	emptySigset   uint64
	defaultAction [4]uint64 // struct kernel_sigaction with handler SIG_DFL
)

// forkAndExecInChild clones the calling process. In the parent it
// returns the child pid with beforeFork active and ForkLock held; the
// caller releases both. The child never returns.
//
//go:norace
func forkAndExecInChild(c *childAttr, pipe [2]int) (pid uintptr, err1 syscall.Errno) {
	syscall.ForkLock.Lock()

	// No allocation or non-assembly calls from here to execve.
	beforeFork()

	pid, _, err1 = syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if err1 != 0 || pid != 0 {
		return
	}

	afterForkInChild()

	report := pipe[1]
	syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(pipe[0]), 0, 0)

	_, _, err1 = syscall.RawSyscall6(syscall.SYS_RT_SIGPROCMASK, unix.SIG_SETMASK,
		uintptr(unsafe.Pointer(&emptySigset)), 0, sigsetSize, 0, 0)
	if err1 != 0 {
		childFail(report, StageSignals, err1)
	}
	for sig := uintptr(1); sig <= numSignals; sig++ {
		if sig == uintptr(syscall.SIGKILL) || sig == uintptr(syscall.SIGSTOP) {
			continue
		}
		// Signals reserved by libc reject this; that is fine.
		syscall.RawSyscall6(syscall.SYS_RT_SIGACTION, sig,
			uintptr(unsafe.Pointer(&defaultAction)), 0, sigsetSize, 0, 0)
	}

	// The report pipe must survive the remap, so it goes above every
	// number the plan touches.
	if c.reportFd >= 0 {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(report), uintptr(c.reportFd), syscall.O_CLOEXEC)
		if err1 != 0 {
			childFail(report, StageReportPipe, err1)
		}
		report = c.reportFd
	}

	for i := range c.entries {
		entry := &c.entries[i]
		if entry.From == entry.To {
			continue
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(entry.From), uintptr(entry.To), 0)
		if err1 != 0 {
			childFail(report, StageRemap, err1)
		}
		syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(entry.From), 0, 0)
	}
	for i := range c.entries {
		entry := &c.entries[i]
		if entry.To != entry.Final {
			_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(entry.To), uintptr(entry.Final), 0)
			if err1 != 0 {
				childFail(report, StageRemap, err1)
			}
			syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(entry.To), 0, 0)
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(entry.Final), syscall.F_SETFD, 0)
		if err1 != 0 {
			childFail(report, StageRemap, err1)
		}
	}

	if !c.keepSession {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_SETSID, 0, 0, 0)
		if err1 != 0 {
			childFail(report, StageSession, err1)
		}
		// Best effort: another session may already own the terminal.
		if c.ctty >= 0 {
			syscall.RawSyscall(syscall.SYS_IOCTL, uintptr(c.ctty), uintptr(syscall.TIOCSCTTY), 0)
		}
	}

	if c.dir != nil {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(c.dir)), 0, 0)
		if err1 != 0 {
			childFail(report, StageChdir, err1)
		}
	}

	// execvp: keep searching past entries that do not exist, remember
	// that something was found but not executable, stop on anything
	// else.
	sawAccess := false
	err1 = syscall.ENOENT
search:
	for _, path := range c.candidates {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_EXECVE,
			uintptr(unsafe.Pointer(path)),
			uintptr(unsafe.Pointer(&c.argv[0])),
			uintptr(unsafe.Pointer(&c.env[0])))
		switch err1 {
		case syscall.EACCES:
			sawAccess = true
		case syscall.ENOENT, syscall.ENOTDIR, syscall.ESTALE, syscall.ENODEV, syscall.ETIMEDOUT:
		default:
			break search
		}
	}
	if sawAccess && (err1 == syscall.ENOENT || err1 == syscall.ENOTDIR ||
		err1 == syscall.ESTALE || err1 == syscall.ENODEV || err1 == syscall.ETIMEDOUT) {
		err1 = syscall.EACCES
	}
	childFail(report, StageExec, err1)
	return
}

// childFail writes the failure record to the report pipe and exits
// with status 127.
//
//go:nosplit
func childFail(pipe int, stage Stage, errno syscall.Errno) {
	record := [2]uint32{uint32(stage), uint32(errno)}
	syscall.RawSyscall(syscall.SYS_WRITE, uintptr(pipe), uintptr(unsafe.Pointer(&record)), unsafe.Sizeof(record))
	for {
		syscall.RawSyscall(syscall.SYS_EXIT, 127, 0, 0)
	}
}
