// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

// Launch flag bits.
const (
	// FlagClearEnv starts the child from an empty environment instead
	// of the launcher's.
	FlagClearEnv uint32 = 1 << 0
)

// SupportedFlags is every flag bit this server understands. It is
// advertised in the get-info reply.
const SupportedFlags = FlagClearEnv

// UnsupportedFlags returns the bits of flags outside SupportedFlags.
func UnsupportedFlags(flags uint32) uint32 {
	return flags &^ SupportedFlags
}
