// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import "fmt"

// ExportState is how far the server has got in exposing its interface.
// It never moves backwards.
type ExportState int

const (
	// Starting: nothing bound yet. The server cannot finish.
	Starting ExportState = iota

	// Listening: the transport is bound but no client has been served.
	Listening

	// Exported: the interface is reachable on at least one connection
	// or bus name.
	Exported

	// Gone: the interface has been withdrawn. The server finishes as
	// soon as its process table is empty.
	Gone
)

func (s ExportState) String() string {
	switch s {
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Exported:
		return "exported"
	case Gone:
		return "gone"
	default:
		return fmt.Sprintf("ExportState(%d)", int(s))
	}
}

// advance moves to next if it is later than the current state, and
// reports whether it moved.
func (s *ExportState) advance(next ExportState) bool {
	if next <= *s {
		return false
	}
	*s = next
	return true
}
