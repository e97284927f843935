// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config builds the launcher's immutable configuration.
//
// [Parse] reads command-line flags and, when --config (or the
// SPAWND_CONFIG environment variable) names one, a configuration file.
// Files ending in .json or .jsonc are JSON with comments and trailing
// commas; anything else is YAML. Values given on the command line win
// over values from the file. ${VAR} and ${VAR:-default} references in
// socket paths are expanded from the environment.
//
// Every validation failure is a [*UsageError]; binaries map it to exit
// status 64.
package config
