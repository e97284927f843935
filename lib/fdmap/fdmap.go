// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fdmap

import "sort"

// Pair requests that the descriptor Source in the launcher becomes
// Destination in the child.
type Pair struct {
	Destination int
	Source      int
}

// Entry describes one descriptor's journey in the child: it starts as
// From, is moved to To in pass 1, and ends as Final after pass 2. To
// equals Final unless the move had to be staged through a spare fd.
type Entry struct {
	From  int
	To    int
	Final int
}

// Staged reports whether the entry needs the second pass.
func (e Entry) Staged() bool { return e.To != e.Final }

// Plan turns the requested pairs into a conflict-free entry list. The
// entries keep the order of pairs; callers wanting a deterministic plan
// for a map-shaped request should pass pairs sorted with SortPairs.
//
// For each entry i, if any later entry j has From_j == To_i, writing
// To_i in pass 1 would destroy entry j's source before it is read. Such
// an entry is redirected to one past the largest fd seen so far, which
// nothing in the request refers to, and completes in pass 2.
func Plan(pairs []Pair) []Entry {
	entries := make([]Entry, len(pairs))
	maxFd := -1
	for i, pair := range pairs {
		entries[i] = Entry{
			From:  pair.Source,
			To:    pair.Destination,
			Final: pair.Destination,
		}
		maxFd = max(maxFd, pair.Destination, pair.Source)
	}

	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].From == entries[i].To {
				maxFd++
				entries[i].To = maxFd
				break
			}
		}
	}

	return entries
}

// MaxFd returns the largest descriptor number the plan reads or
// writes, or -1 for an empty plan. Anything above it is free for the
// child's own bookkeeping (such as its error-reporting pipe).
func MaxFd(entries []Entry) int {
	maxFd := -1
	for _, entry := range entries {
		maxFd = max(maxFd, entry.From, entry.To, entry.Final)
	}
	return maxFd
}

// Finals returns the set of descriptor numbers the child will hold once
// the plan has been applied, in plan order.
func Finals(entries []Entry) []int {
	finals := make([]int, len(entries))
	for i, entry := range entries {
		finals[i] = entry.Final
	}
	return finals
}

// SortPairs orders pairs by destination fd.
func SortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Destination < pairs[j].Destination
	})
}
