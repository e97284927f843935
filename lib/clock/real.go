// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

type wallClock struct{}

// Real returns the system clock.
func Real() Clock { return wallClock{} }

func (wallClock) AfterFunc(d time.Duration, f func()) *Timer {
	return &Timer{cancel: time.AfterFunc(d, f).Stop}
}
