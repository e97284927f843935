// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fdmap plans how inherited file descriptors are moved onto
// their requested numbers in a new child process.
//
// A launch request names, for each destination fd in the child, a
// source fd open in the launcher. Applying the moves naively with one
// dup2 per request can clobber a source that a later move still needs:
// asking for fd 3 to become 9 and fd 9 to become 3 destroys one of them
// whichever move runs first. [Plan] detects each such conflict and
// routes the offending move through a fresh, currently unused fd above
// every number the request mentions, leaving the final move to a second
// pass. The resulting [Entry] list is executed by package spawn in the
// child between fork and exec:
//
//	pass 1: for each entry with From != To: dup2(From, To); close(From)
//	pass 2: for each entry with To != Final: dup2(To, Final); close(To)
//
// Two passes are always enough, including for cyclic requests.
//
// This package performs no system calls.
package fdmap
