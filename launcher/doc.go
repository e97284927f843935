// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launcher implements the spawnd server: it accepts launch,
// signal and terminate requests from clients of a [transport.Transport],
// starts child processes with [spawn.Start], reports their exits back to
// the client that launched them, and decides when the whole process may
// exit.
//
// All server state is owned by one goroutine, the loop in [Server.Run].
// Everything else (connection readers, exit watchers, the signal
// bridge, the exit-on-readable watcher, the grace timer) hands work to
// the loop as closures. Nothing in the server takes a lock.
//
// The server's lifecycle is an [ExportState] that only moves forward:
//
//	Starting -> Listening -> Exported -> Gone
//
// Run returns once the state is Gone and the [ProcessTable] is empty,
// that is, once the interface has been withdrawn and every child the
// server started has been reaped.
//
// Shutdown is always the same internal stop operation, whatever
// triggered it: a terminate request, an OS signal (see [NotifySignals]),
// exit of a process launched with terminate-after (including the
// wrapped command when StopOnExit is set), loss of a bus name, the
// exit-on-readable descriptor, a fatal transport failure, or context
// cancellation. Stop forwards the signal to every tracked process
// group; the first call also stops the transport listening and, if
// anything was exported, lets in-flight requests drain and waits
// [GraceDelay] before closing client connections.
package launcher
