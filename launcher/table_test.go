// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"slices"
	"testing"

	"github.com/bureau-foundation/spawnd/transport"
)

func TestProcessTable(t *testing.T) {
	table := NewProcessTable()
	for _, pid := range []int{30, 10, 20} {
		if !table.Insert(&ProcessRecord{Pid: pid}) {
			t.Fatalf("Insert(%d) refused", pid)
		}
	}
	if table.Insert(&ProcessRecord{Pid: 20, TerminateAfter: true}) {
		t.Error("Insert accepted a duplicate pid")
	}
	if record, _ := table.Lookup(20); record.TerminateAfter {
		t.Error("duplicate Insert replaced the existing record")
	}

	if got := table.Pids(); !slices.Equal(got, []int{10, 20, 30}) {
		t.Errorf("Pids() = %v, want [10 20 30]", got)
	}

	record, ok := table.Take(20)
	if !ok || record.Pid != 20 {
		t.Fatalf("Take(20) = %v, %v", record, ok)
	}
	if _, ok := table.Take(20); ok {
		t.Error("second Take(20) found a record")
	}
	if _, ok := table.Lookup(20); ok {
		t.Error("Lookup(20) found a taken record")
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}

func TestProcessRecordOwnership(t *testing.T) {
	first, second, err := transport.Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	defer second.Close()

	record := &ProcessRecord{Pid: 1, Conn: first, ClientID: ":1.5"}
	tests := []struct {
		name     string
		conn     transport.Conn
		clientID string
		want     bool
	}{
		{"owner", first, ":1.5", true},
		{"other connection", second, ":1.5", false},
		{"other client on the same connection", first, ":1.6", false},
		{"no connection", nil, "", false},
	}
	for _, test := range tests {
		if got := record.ownedBy(test.conn, test.clientID); got != test.want {
			t.Errorf("%s: ownedBy = %v, want %v", test.name, got, test.want)
		}
	}

	wrapped := &ProcessRecord{Pid: 2}
	if wrapped.ownedBy(nil, "") {
		t.Error("the wrapped command is owned by a nil caller")
	}
}
