// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock schedules delayed calls.
type Clock interface {
	// AfterFunc calls f once d has elapsed. Real calls f on its own
	// goroutine; FakeClock calls it from Advance.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	cancel func() bool
}

// Stop cancels the call and reports whether it had not yet run.
func (t *Timer) Stop() bool { return t.cancel() }
