// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spawn creates child processes for the launcher.
//
// [Start] forks with a raw clone(2) and runs a fixed, allocation-free
// setup procedure in the child before execve: the signal mask is
// emptied, every signal disposition except SIGKILL and SIGSTOP is reset
// to the default, the [fdmap] plan is applied in two passes, the final
// descriptors lose close-on-exec, and (unless [Attr.KeepSession] is
// set) the child becomes the leader of a new session and process group,
// claiming a terminal on fd 0, 1 or 2 as its controlling terminal when
// one is present. Nothing between clone and execve may allocate, take a
// lock, or call a non-assembly Go function, so all strings and the
// PATH search list are prepared in the parent.
//
// Setup failures are reported back over a close-on-exec pipe as a
// [ChildError] naming the failing [Stage] and errno. End of file on that
// pipe means execve succeeded.
//
// [Wait] and [Signal] are the matching reaping and delivery helpers.
package spawn
