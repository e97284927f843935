// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
)

// ErrorName classifies a failed request.
type ErrorName string

const (
	// ErrInvalidArgs: the request was well-formed but its arguments
	// are not acceptable (empty argv, unsupported flags, bad signal).
	ErrInvalidArgs ErrorName = "InvalidArgs"

	// ErrAccessDenied: the program exists but cannot be executed.
	ErrAccessDenied ErrorName = "AccessDenied"

	// ErrFileNotFound: the program does not exist.
	ErrFileNotFound ErrorName = "FileNotFound"

	// ErrFailed: anything else.
	ErrFailed ErrorName = "Failed"

	// ErrUnixProcessIdUnknown: the pid is not one this client
	// launched. Unknown and foreign pids are indistinguishable.
	ErrUnixProcessIdUnknown ErrorName = "UnixProcessIdUnknown"

	// ErrProtocol: the packet could not be decoded or named an
	// unknown action.
	ErrProtocol ErrorName = "ProtocolError"
)

// Error is a named request failure.
type Error struct {
	Name    ErrorName
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Name)
	}
	return string(e.Name) + ": " + e.Message
}

// Is matches another *Error with the same Name, so callers can write
// errors.Is(err, &ipc.Error{Name: ipc.ErrFileNotFound}).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Name == e.Name
}

// Errorf builds an *Error with a formatted message.
func Errorf(name ErrorName, format string, args ...any) *Error {
	return &Error{Name: name, Message: fmt.Sprintf(format, args...)}
}

// NameOf returns the ErrorName carried by err, or "" when err does not
// wrap an *Error.
func NameOf(err error) ErrorName {
	var ipcErr *Error
	if errors.As(err, &ipcErr) {
		return ipcErr.Name
	}
	return ""
}

// FailureReply builds the reply for a failed request. Errors that are
// not *Error are reported as ErrFailed.
func FailureReply(serial uint64, err error) *Reply {
	reply := &Reply{Serial: serial, ErrorName: ErrFailed, Error: err.Error()}
	var ipcErr *Error
	if errors.As(err, &ipcErr) {
		reply.ErrorName = ipcErr.Name
		reply.Error = ipcErr.Message
	}
	return reply
}
