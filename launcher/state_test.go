// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"math/rand"
	"testing"
)

func TestExportStateAdvance(t *testing.T) {
	state := Starting
	if !state.advance(Exported) {
		t.Fatal("advance(Exported) from Starting did not move")
	}
	if state.advance(Listening) {
		t.Error("advance(Listening) from Exported moved backwards")
	}
	if state.advance(Exported) {
		t.Error("advance to the current state reported a move")
	}
	if state != Exported {
		t.Errorf("state = %v, want exported", state)
	}
}

func TestExportStateNeverDecreases(t *testing.T) {
	random := rand.New(rand.NewSource(1))
	for run := 0; run < 100; run++ {
		state := Starting
		for step := 0; step < 20; step++ {
			previous := state
			next := ExportState(random.Intn(int(Gone) + 1))
			moved := state.advance(next)
			if state < previous {
				t.Fatalf("run %d: advance(%v) moved %v back to %v", run, next, previous, state)
			}
			if moved != (next > previous) {
				t.Fatalf("run %d: advance(%v) from %v reported moved=%v", run, next, previous, moved)
			}
		}
	}
}

func TestExportStateString(t *testing.T) {
	for state, want := range map[ExportState]string{
		Starting:        "starting",
		Listening:       "listening",
		Exported:        "exported",
		Gone:            "gone",
		ExportState(42): "ExportState(42)",
	} {
		if got := state.String(); got != want {
			t.Errorf("ExportState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
