// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// Transport is what the launcher server consumes.
type Transport interface {
	// Events delivers connection and ownership changes in order. The
	// channel is closed once the transport will send nothing more.
	Events() <-chan Event

	// StopListening refuses further connections. Accepted connections
	// stay open. Safe to call more than once.
	StopListening()
}

// Conn is one accepted client connection.
type Conn interface {
	// ClientID identifies the client on transports that address
	// clients by name. Empty for peer-to-peer sockets.
	ClientID() string

	// Receive blocks for the next packet. It returns io.EOF once the
	// client has hung up.
	Receive() (*Packet, error)

	// Send writes one packet. Safe for concurrent use.
	Send(data []byte) error

	// Close shuts the connection down and unblocks Receive.
	Close() error
}

// Packet is one received message and the descriptors attached to it.
// The descriptors are close-on-exec and owned by the receiver.
type Packet struct {
	Data []byte
	Fds  []int
}

// Event is one of Connected, BusNameAcquired, BusNameLost, Ready or
// Failed.
type Event interface {
	transportEvent()
}

// Connected delivers a newly accepted connection.
type Connected struct {
	Conn Conn
}

// BusNameAcquired reports that the named bus name is now owned.
type BusNameAcquired struct {
	Name string
}

// BusNameLost reports that a bus name could not be claimed or was
// taken away.
type BusNameLost struct {
	Name string
}

// Ready reports that the transport is accepting connections at
// Address.
type Ready struct {
	Address string
}

// Failed reports that the transport could not be set up, or stopped
// working. No further events follow.
type Failed struct {
	Err error
}

func (Connected) transportEvent()       {}
func (BusNameAcquired) transportEvent() {}
func (BusNameLost) transportEvent()     {}
func (Ready) transportEvent()           {}
func (Failed) transportEvent()          {}
