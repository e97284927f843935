// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the spawnd
// binaries: reporting an error from run() before or after the logger
// exists, and turning it into the right exit status.
package process
