// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used on the launcher
// socket.
//
// Every request, reply and event travels as exactly one CBOR item in
// one SOCK_SEQPACKET packet, so the package is buffer-oriented:
//
//	data, err := codec.Marshal(request)
//	err = codec.Unmarshal(packet, &request)
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2). The
// same logical message always produces identical bytes, which keeps
// packet captures and test fixtures comparable.
//
// Wire types carry `cbor` struct tags only. They are never serialized
// as JSON.
package codec
