// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries launcher requests between clients and the
// server.
//
// The server consumes a [Transport]: a stream of [Event] values
// (readiness, accepted connections, bus-name ownership changes, fatal
// failure) plus StopListening, which refuses further connections
// without touching the ones already accepted. Each accepted [Conn]
// exchanges whole packets: one request or reply per packet, with any
// descriptors for a request attached to it.
//
// [SocketListener] is the shipped implementation: a private
// SOCK_SEQPACKET Unix socket, either at a fixed path or under a
// generated name in a directory, passing descriptors as SCM_RIGHTS.
// Peer connections have no client identity. Bus-name events are part
// of the interface for transports that claim names on a message bus;
// the socket listener never emits them.
//
// Clients use [Dial], or [Pair] for an in-process connection.
package transport
