// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"os"
	"os/signal"
	"syscall"
)

// StopSignals are the signals that stop the launcher. Each is
// forwarded to every tracked process.
var StopSignals = []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM}

// NotifySignals diverts StopSignals from their default action into the
// returned channel, for Options.Signals. Call it first thing in main,
// before anything else runs, so that none of them can kill the process
// in the meantime.
func NotifySignals() <-chan os.Signal {
	signals := make(chan os.Signal, len(StopSignals))
	signal.Notify(signals, StopSignals...)
	return signals
}
