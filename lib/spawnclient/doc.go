// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spawnclient is the client side of the spawnd protocol.
//
// A Client holds one connection to a launcher. Calls may be made from
// any goroutine; replies are matched to calls by serial number, and
// Exited events for processes launched over the connection arrive on
// [Client.Exits]. Descriptors passed to [Client.Launch] are sent with
// the request and stay owned by the caller.
//
//	client, err := spawnclient.Dial(socketPath)
//	...
//	pid, err := client.Launch(ctx, spawnclient.LaunchRequest{
//	    Argv: []string{"make", "check"},
//	    Fds:  []int{0, 1, 2},
//	})
//	...
//	for event := range client.Exits() {
//	    if int(event.Pid) == pid { ... }
//	}
package spawnclient
