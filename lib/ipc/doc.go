// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the messages spoken on the launcher socket. Both
// the server (package launcher) and clients (cmd/spawnd-launch, and
// anything else that dials the socket) import it so the wire types are
// defined once.
//
// Each message is one CBOR item (see lib/codec) in one SOCK_SEQPACKET
// packet. A client sends [Request] packets; descriptors for a launch
// travel as SCM_RIGHTS ancillary data on the same packet. The server
// sends [ServerMessage] packets, each holding either a [Reply] to the
// request with the same serial or an unsolicited [Event].
//
// Failed requests carry an [ErrorName] so clients can branch on the
// failure class without parsing messages.
package ipc
