// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"sort"

	"github.com/bureau-foundation/spawnd/transport"
)

// ProcessRecord is one child the server started and has not yet
// reaped.
type ProcessRecord struct {
	Pid int

	// Conn is the connection that launched the process. Nil for the
	// wrapped command.
	Conn transport.Conn

	// ClientID is the launching client's bus identity. Empty for peer
	// sockets and for the wrapped command.
	ClientID string

	// TerminateAfter stops the server when this process exits.
	TerminateAfter bool
}

// ownedBy reports whether the caller on conn with clientID launched
// the process.
func (r *ProcessRecord) ownedBy(conn transport.Conn, clientID string) bool {
	return r.Conn != nil && r.Conn == conn && r.ClientID == clientID
}

// ProcessTable maps live child pids to their records. A pid is present
// exactly while the child is believed to be running: it is inserted
// after a successful spawn and taken out by the exit notification.
type ProcessTable struct {
	records map[int]*ProcessRecord
}

func NewProcessTable() *ProcessTable {
	return &ProcessTable{records: make(map[int]*ProcessRecord)}
}

// Insert adds record. It reports false, leaving the table unchanged,
// if the pid is already present.
func (t *ProcessTable) Insert(record *ProcessRecord) bool {
	if _, exists := t.records[record.Pid]; exists {
		return false
	}
	t.records[record.Pid] = record
	return true
}

func (t *ProcessTable) Lookup(pid int) (*ProcessRecord, bool) {
	record, ok := t.records[pid]
	return record, ok
}

// Take removes the record for pid and returns it.
func (t *ProcessTable) Take(pid int) (*ProcessRecord, bool) {
	record, ok := t.records[pid]
	if ok {
		delete(t.records, pid)
	}
	return record, ok
}

func (t *ProcessTable) Len() int { return len(t.records) }

// HasOwner reports whether any tracked process was launched over conn.
func (t *ProcessTable) HasOwner(conn transport.Conn) bool {
	for _, record := range t.records {
		if record.Conn != nil && record.Conn == conn {
			return true
		}
	}
	return false
}

// Pids returns the tracked pids in ascending order.
func (t *ProcessTable) Pids() []int {
	pids := make([]int, 0, len(t.records))
	for pid := range t.records {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}
