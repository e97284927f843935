// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"syscall"

	"github.com/bureau-foundation/spawnd/lib/spawn"
	"github.com/bureau-foundation/spawnd/transport"
)

// stop forwards sig to every tracked process and, the first time,
// begins withdrawing the interface. Later calls only forward.
func (s *Server) stop(sig syscall.Signal) {
	s.forward(sig)
	if s.stopping {
		return
	}
	s.stopping = true
	s.logger.Info("stopping", "signal", sig, "processes", s.table.Len())

	s.transport.StopListening()
	if s.state < Exported {
		s.closeConnections()
		s.advance(Gone)
		return
	}
	s.releaseWhenDrained()
}

// forward delivers sig to each tracked process's group, or to the
// process alone when it does not lead one. Failures are expected for
// processes that have just exited.
func (s *Server) forward(sig syscall.Signal) {
	for _, pid := range s.table.Pids() {
		if err := spawn.Signal(pid, sig, true); err != nil {
			s.logger.Debug("forwarding signal failed", "pid", pid, "signal", sig, "error", err)
		}
	}
}

// releaseWhenDrained starts the grace delay once no request is in
// flight; otherwise requestDone calls it again when the last one is
// answered.
func (s *Server) releaseWhenDrained() {
	if s.inFlight.Load() > 0 {
		s.drainPending = true
		return
	}
	s.drainPending = false
	if s.graceTimer != nil {
		return
	}
	s.graceTimer = s.clock.AfterFunc(GraceDelay, func() {
		s.post(s.release)
	})
}

// release withdraws the interface. A connection that still owns a
// running process stays open, refusing requests, until the last of its
// processes has been reported.
func (s *Server) release() {
	s.logger.Debug("grace delay elapsed", "connections", len(s.conns))
	s.advance(Gone)
	for conn := range s.conns {
		s.closeIfReleased(conn)
	}
}

// closeIfReleased closes conn once the interface is gone and no tracked
// process belongs to it.
func (s *Server) closeIfReleased(conn transport.Conn) {
	if s.state != Gone || s.table.HasOwner(conn) {
		return
	}
	delete(s.conns, conn)
	conn.Close()
}
