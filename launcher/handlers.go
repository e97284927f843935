// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/spawnd/lib/fdmap"
	"github.com/bureau-foundation/spawnd/lib/ipc"
	"github.com/bureau-foundation/spawnd/lib/spawn"
	"github.com/bureau-foundation/spawnd/lib/version"
)

// launch starts the process described by request on behalf of caller.
// handles are the descriptors that arrived with the request; the
// request's fd map indexes into them.
func (s *Server) launch(caller caller, request *ipc.Request, handles []int) (int, error) {
	if s.stopping {
		return 0, ipc.Errorf(ipc.ErrFailed, "launcher is shutting down")
	}
	if len(request.Argv) == 0 {
		return 0, ipc.Errorf(ipc.ErrInvalidArgs, "argv must not be empty")
	}
	if unsupported := ipc.UnsupportedFlags(request.Flags); unsupported != 0 {
		return 0, ipc.Errorf(ipc.ErrInvalidArgs, "unsupported flags %#x", unsupported)
	}

	env := s.composeEnvironment(environmentRequest{
		clear: request.Flags&ipc.FlagClearEnv != 0,
		set:   request.Envs,
		unset: request.Options.UnsetEnv,
		cwd:   request.Cwd,
	})

	pairs, duplicates, err := s.resolveHandles(request.Fds, handles)
	defer closeAll(duplicates)
	if err != nil {
		return 0, err
	}

	plan := fdmap.Plan(pairs)
	pid, err := spawn.Start(&spawn.Attr{
		Argv: request.Argv,
		Env:  env,
		Dir:  request.Cwd,
		Fds:  plan,
	})
	if err != nil {
		s.logger.Info("launch failed", "argv", request.Argv, "client", caller.clientID, "error", err)
		return 0, spawnError(err)
	}

	s.track(&ProcessRecord{
		Pid:            pid,
		Conn:           caller.conn,
		ClientID:       caller.clientID,
		TerminateAfter: request.Options.TerminateAfter,
	})
	s.logger.Info("launched process",
		"pid", pid,
		"argv", request.Argv,
		"client", caller.clientID,
		"fds", fdmap.Finals(plan),
		"terminate_after", request.Options.TerminateAfter,
	)
	return pid, nil
}

// resolveHandles turns the request's destination -> index map into
// pairs ordered by destination. Every referenced handle is duplicated,
// so each destination gets a source of its own; the caller closes the
// returned duplicates once the child is running. Indices past the end
// of handles are ignored.
func (s *Server) resolveHandles(fds map[uint32]uint32, handles []int) ([]fdmap.Pair, []int, error) {
	destinations := make([]uint32, 0, len(fds))
	for destination := range fds {
		destinations = append(destinations, destination)
	}
	sort.Slice(destinations, func(i, j int) bool { return destinations[i] < destinations[j] })

	var pairs []fdmap.Pair
	var duplicates []int
	for _, destination := range destinations {
		index := fds[destination]
		if int64(index) >= int64(len(handles)) {
			s.logger.Debug("ignoring out-of-range fd index", "fd", destination, "index", index, "handles", len(handles))
			continue
		}
		if destination > uint32(maxDestinationFd) {
			return nil, duplicates, ipc.Errorf(ipc.ErrInvalidArgs, "destination fd %d out of range", destination)
		}
		duplicate, err := unix.FcntlInt(uintptr(handles[index]), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			return nil, duplicates, ipc.Errorf(ipc.ErrFailed, "duplicating fd for %d: %v", destination, err)
		}
		duplicates = append(duplicates, duplicate)
		pairs = append(pairs, fdmap.Pair{Destination: int(destination), Source: duplicate})
	}
	return pairs, duplicates, nil
}

// maxDestinationFd keeps every fd the plan can reach representable in
// the child's syscalls, with room for staging.
const maxDestinationFd = 1<<30 - 1

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

// spawnError maps a spawn failure to the error reported to the client.
// Only exec failures have dedicated names; a missing working directory
// is a generic failure like any other setup problem.
func spawnError(err error) error {
	var childErr *spawn.ChildError
	if errors.As(err, &childErr) && childErr.Stage == spawn.StageExec {
		switch childErr.Errno {
		case syscall.ENOENT:
			return ipc.Errorf(ipc.ErrFileNotFound, "%v", err)
		case syscall.EACCES:
			return ipc.Errorf(ipc.ErrAccessDenied, "%v", err)
		}
	}
	if errors.Is(err, spawn.ErrNoArgv) {
		return ipc.Errorf(ipc.ErrInvalidArgs, "%v", err)
	}
	return ipc.Errorf(ipc.ErrFailed, "%v", err)
}

// sendSignal delivers sig to pid if caller launched it. A pid owned by
// someone else gets the same answer as one that does not exist.
func (s *Server) sendSignal(caller caller, pid, sig int, group bool) error {
	record, ok := s.table.Lookup(pid)
	if !ok || !record.ownedBy(caller.conn, caller.clientID) {
		return ipc.Errorf(ipc.ErrUnixProcessIdUnknown, "process %d unknown", pid)
	}

	err := spawn.Signal(pid, syscall.Signal(sig), group)
	switch {
	case err == nil:
		s.logger.Debug("sent signal", "pid", pid, "signal", syscall.Signal(sig), "group", group)
		return nil
	case errors.Is(err, syscall.ESRCH):
		// Exited but not yet reaped.
		return nil
	case errors.Is(err, syscall.EINVAL):
		return ipc.Errorf(ipc.ErrInvalidArgs, "invalid signal %d", sig)
	default:
		return ipc.Errorf(ipc.ErrFailed, "signalling process %d: %v", pid, err)
	}
}

// terminate answers immediately; the stop runs after the reply is
// sent.
func (s *Server) terminate() {
	s.logger.Info("terminate requested")
	s.afterTask(func() { s.stop(syscall.SIGTERM) })
}

func (s *Server) getInfo() (uint32, string) {
	return ipc.SupportedFlags, version.Short()
}
