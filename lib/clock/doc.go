// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The launcher's only timed behaviour is the grace delay between the
// last in-flight request finishing and exported connections being
// closed. Tests drive it with a [FakeClock]:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	server := launcher.New(cfg, launcher.Options{Clock: fake, ...})
//	// ... trigger shutdown ...
//	fake.WaitForTimers(1)
//	fake.Advance(launcher.GraceDelay)
//
// WaitForTimers closes the race between a goroutine registering its
// timer and the test advancing past it.
package clock
