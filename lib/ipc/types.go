// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

// Request actions.
const (
	ActionLaunch     = "launch"
	ActionSendSignal = "send-signal"
	ActionTerminate  = "terminate"
	ActionGetInfo    = "get-info"
)

// Request is one client call.
type Request struct {
	// Action selects the operation; one of the Action constants.
	Action string `cbor:"action"`

	// Serial is chosen by the client and echoed in the Reply.
	Serial uint64 `cbor:"serial"`

	// Cwd is the child's working directory (launch). Empty keeps the
	// launcher's own, and PWD is then set to that directory.
	Cwd string `cbor:"cwd,omitempty"`

	// Argv is the command to run (launch). Argv[0] is looked up in the
	// child environment's PATH when it contains no slash.
	Argv []string `cbor:"argv,omitempty"`

	// Fds maps a descriptor number in the child to an index into the
	// descriptors attached to this packet (launch). Indices past the
	// end of the attached set are ignored.
	Fds map[uint32]uint32 `cbor:"fds,omitempty"`

	// Envs are variables set in the child (launch). PWD is reserved
	// and ignored here.
	Envs map[string]string `cbor:"envs,omitempty"`

	// Flags is a bitmask of Flag values (launch). Bits outside
	// SupportedFlags reject the whole request.
	Flags uint32 `cbor:"flags,omitempty"`

	// Options carries the optional launch settings.
	Options LaunchOptions `cbor:"options,omitempty"`

	// Pid is the target of send-signal.
	Pid uint32 `cbor:"pid,omitempty"`

	// Signal is the signal number for send-signal.
	Signal int32 `cbor:"signal,omitempty"`

	// ToProcessGroup sends the signal to Pid's whole process group
	// when Pid leads one.
	ToProcessGroup bool `cbor:"to_process_group,omitempty"`
}

// LaunchOptions are the optional settings of a launch request.
type LaunchOptions struct {
	// TerminateAfter stops the launcher once this child exits.
	TerminateAfter bool `cbor:"terminate-after,omitempty"`

	// UnsetEnv names variables removed from the child environment
	// after Envs has been applied. PWD cannot be unset.
	UnsetEnv []string `cbor:"unset-env,omitempty"`
}

// ServerMessage is one packet from the server. Exactly one field is
// set.
type ServerMessage struct {
	Reply *Reply `cbor:"reply,omitempty"`
	Event *Event `cbor:"event,omitempty"`
}

// Reply answers the Request with the same Serial.
type Reply struct {
	Serial uint64 `cbor:"serial"`

	// OK reports success. When false, ErrorName and Error describe the
	// failure.
	OK        bool      `cbor:"ok"`
	ErrorName ErrorName `cbor:"error_name,omitempty"`
	Error     string    `cbor:"error,omitempty"`

	// Pid is the new child (launch).
	Pid uint32 `cbor:"pid,omitempty"`

	// SupportedFlags and Version describe the server (get-info).
	SupportedFlags uint32 `cbor:"supported_flags,omitempty"`
	Version        string `cbor:"version,omitempty"`
}

// Err returns the reply's failure as an *Error, or nil when OK.
func (r *Reply) Err() error {
	if r.OK {
		return nil
	}
	name := r.ErrorName
	if name == "" {
		name = ErrFailed
	}
	return &Error{Name: name, Message: r.Error}
}

// EventExited reports that a launched child has exited.
const EventExited = "exited"

// Event is an unsolicited notification, sent only on the connection
// that launched the process concerned.
type Event struct {
	// Name is the event type; currently always EventExited.
	Name string `cbor:"name"`

	Pid uint32 `cbor:"pid"`

	// WaitStatus is the raw wait(2) status: decode with
	// syscall.WaitStatus.
	WaitStatus uint32 `cbor:"wait_status"`

	// Destination is the client identity the event is addressed to.
	// Empty on peer-to-peer socket connections, which have none.
	Destination string `cbor:"destination,omitempty"`
}
