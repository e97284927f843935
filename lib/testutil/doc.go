// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short directory in /tmp for Unix domain
// sockets, whose paths are limited to 108 bytes (sun_path) and so
// cannot live under a deeply nested t.TempDir().
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern used when a test waits on a channel fed by another goroutine:
// an exit notification, a reply packet, the server loop returning.
// They are the only place tests use real wall-clock timeouts.
//
// All helpers call t.Fatalf on failure.
package testutil
