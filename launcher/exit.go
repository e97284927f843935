// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/spawnd/lib/ipc"
	"github.com/bureau-foundation/spawnd/lib/spawn"
)

// track inserts record and starts waiting for the process.
func (s *Server) track(record *ProcessRecord) {
	if !s.table.Insert(record) {
		s.logger.Error("pid already tracked", "pid", record.Pid, "bug", true)
		return
	}
	go s.waitExit(record.Pid)
}

// waitExit blocks until pid exits and hands it to the loop. The
// process is reaped there, so its pid stays reserved while the record
// is still in the table.
func (s *Server) waitExit(pid int) {
	if err := spawn.AwaitExit(pid); err != nil {
		s.logger.Error("waiting for process", "pid", pid, "error", err, "bug", true)
	}
	s.post(func() { s.handleExit(pid) })
}

func (s *Server) handleExit(pid int) {
	record, ok := s.table.Take(pid)
	if !ok {
		s.logger.Error("exit of untracked process", "pid", pid, "bug", true)
		return
	}
	status, err := spawn.Wait(pid)
	if err != nil {
		// Someone else reaped it. The record must still go.
		s.logger.Error("reaping process", "pid", pid, "error", err, "bug", true)
	}
	s.logger.Info("process exited", "pid", pid, "status", describeStatus(status))

	if record.Conn != nil {
		if _, connected := s.conns[record.Conn]; connected {
			s.send(record.Conn, ipc.ServerMessage{Event: &ipc.Event{
				Name:        ipc.EventExited,
				Pid:         uint32(pid),
				WaitStatus:  uint32(status),
				Destination: record.ClientID,
			}})
			s.closeIfReleased(record.Conn)
		} else {
			s.logger.Debug("owner of exited process is gone", "pid", pid)
		}
	}

	if s.main.present && s.main.pid == pid {
		s.main = mainProcess{}
	}

	if record.TerminateAfter {
		s.stop(syscall.SIGTERM)
	}
}

func describeStatus(status unix.WaitStatus) string {
	switch {
	case status.Exited():
		return "exit " + strconv.Itoa(status.ExitStatus())
	case status.Signaled():
		return "killed by " + status.Signal().String()
	default:
		return "status " + strconv.Itoa(int(status))
	}
}
