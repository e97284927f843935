// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the spawnd
// binaries.
//
// Three variables are injected at build time via -ldflags -X:
//
//   - [GitCommit]: short git SHA of the build
//   - [GitDirty]: "true" if there were uncommitted changes
//   - [BuildTime]: UTC timestamp of the build
//
// Without them the VCS stamp recorded by the go command is used.
// [Version] is set by hand for releases. The launcher reports [Short]
// to clients in its get-info reply.
package version
