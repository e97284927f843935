// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"

	"github.com/bureau-foundation/spawnd/lib/codec"
	"github.com/bureau-foundation/spawnd/lib/ipc"
	"github.com/bureau-foundation/spawnd/lib/netutil"
	"github.com/bureau-foundation/spawnd/transport"
)

func (s *Server) handleConnected(conn transport.Conn) {
	if s.stopping {
		s.logger.Debug("refusing connection while stopping")
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.advance(Exported)
	s.logger.Debug("client connected", "client", conn.ClientID(), "connections", len(s.conns))
	go s.readConnection(conn)
}

// readConnection feeds packets from conn into the loop until the client
// hangs up or the connection is closed.
func (s *Server) readConnection(conn transport.Conn) {
	for {
		packet, err := conn.Receive()
		if errors.Is(err, transport.ErrTruncated) {
			s.logger.Warn("dropping oversized packet", "client", conn.ClientID())
			continue
		}
		if err != nil {
			s.post(func() { s.dropConnection(conn, err) })
			return
		}

		s.inFlight.Add(1)
		if !s.post(func() { s.handlePacket(conn, packet) }) {
			s.inFlight.Add(-1)
			packet.CloseFds()
			return
		}
	}
}

func (s *Server) dropConnection(conn transport.Conn, err error) {
	if _, ok := s.conns[conn]; !ok {
		return
	}
	delete(s.conns, conn)
	conn.Close()
	if netutil.IsExpectedCloseError(err) {
		s.logger.Debug("client disconnected", "client", conn.ClientID())
	} else {
		s.logger.Warn("client connection failed", "client", conn.ClientID(), "error", err)
	}
}

func (s *Server) closeConnections() {
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}

// handlePacket decodes and answers one request. Descriptors attached
// to the packet are closed afterwards; a launch duplicates what it
// keeps.
func (s *Server) handlePacket(conn transport.Conn, packet *transport.Packet) {
	defer s.requestDone()
	defer packet.CloseFds()

	var request ipc.Request
	if err := codec.Unmarshal(packet.Data, &request); err != nil {
		s.logger.Warn("malformed request", "client", conn.ClientID(), "error", err)
		if notation, diagErr := codec.Diagnose(packet.Data); diagErr == nil {
			s.logger.Debug("malformed request contents", "client", conn.ClientID(), "cbor", notation)
		}
		s.send(conn, ipc.ServerMessage{
			Reply: ipc.FailureReply(0, ipc.Errorf(ipc.ErrProtocol, "decoding request: %v", err)),
		})
		return
	}

	if s.state == Gone {
		s.send(conn, ipc.ServerMessage{
			Reply: ipc.FailureReply(request.Serial, ipc.Errorf(ipc.ErrFailed, "launcher is shutting down")),
		})
		return
	}

	caller := caller{conn: conn, clientID: conn.ClientID()}
	reply := s.dispatch(caller, &request, packet.Fds)
	s.send(conn, ipc.ServerMessage{Reply: reply})
}

// caller identifies who made a request.
type caller struct {
	conn     transport.Conn
	clientID string
}

func (s *Server) dispatch(caller caller, request *ipc.Request, fds []int) *ipc.Reply {
	var err error
	reply := &ipc.Reply{Serial: request.Serial, OK: true}

	switch request.Action {
	case ipc.ActionLaunch:
		var pid int
		pid, err = s.launch(caller, request, fds)
		reply.Pid = uint32(pid)
	case ipc.ActionSendSignal:
		err = s.sendSignal(caller, int(request.Pid), int(request.Signal), request.ToProcessGroup)
	case ipc.ActionTerminate:
		s.terminate()
	case ipc.ActionGetInfo:
		reply.SupportedFlags, reply.Version = s.getInfo()
	default:
		err = ipc.Errorf(ipc.ErrProtocol, "unknown action %q", request.Action)
	}

	if err != nil {
		s.logger.Debug("request failed",
			"action", request.Action,
			"serial", request.Serial,
			"client", caller.clientID,
			"error", err,
		)
		return ipc.FailureReply(request.Serial, err)
	}
	return reply
}

// send writes one message to conn. Failures are logged: the reader
// notices a dead connection on its own.
func (s *Server) send(conn transport.Conn, message ipc.ServerMessage) {
	data, err := codec.Marshal(message)
	if err != nil {
		s.logger.Error("encoding server message", "error", err, "bug", true)
		return
	}
	if err := conn.Send(data); err != nil {
		s.logger.Debug("sending to client failed", "client", conn.ClientID(), "error", err)
	}
}

// requestDone is called on the loop after each request is answered.
func (s *Server) requestDone() {
	if s.inFlight.Add(-1) == 0 && s.drainPending {
		s.releaseWhenDrained()
	}
}
