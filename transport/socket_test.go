// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/spawnd/lib/testutil"
)

const timeout = 5 * time.Second

func requireEvent[E Event](t *testing.T, events <-chan Event) E {
	t.Helper()
	event := testutil.RequireReceive(t, events, timeout, "waiting for transport event")
	typed, ok := event.(E)
	if !ok {
		t.Fatalf("event = %#v, want %T", event, *new(E))
	}
	return typed
}

func TestSocketListenerPath(t *testing.T) {
	directory := testutil.SocketDir(t)
	path := filepath.Join(directory, "launcher.sock")
	leftover, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		t.Fatal(err)
	}
	leftover.SetUnlinkOnClose(false)
	leftover.Close()

	listener := NewSocketListener(SocketOptions{Path: path})
	listener.Start()
	defer listener.StopListening()

	ready := requireEvent[Ready](t, listener.Events())
	if ready.Address != path {
		t.Errorf("Ready.Address = %q, want %q", ready.Address, path)
	}
	if listener.Address() != path {
		t.Errorf("Address() = %q, want %q", listener.Address(), path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if info.Mode().Type() != os.ModeSocket {
		t.Errorf("bound path is not a socket: mode %v", info.Mode())
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("socket permissions = %v, want 0600", info.Mode().Perm())
	}

	client, err := Dial(path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	connected := requireEvent[Connected](t, listener.Events())
	server := connected.Conn
	defer server.Close()
	if server.ClientID() != "" {
		t.Errorf("socket ClientID = %q, want empty", server.ClientID())
	}

	exchangeWithFd(t, client, server)

	listener.StopListening()
	listener.StopListening()
	if _, ok := <-listener.Events(); ok {
		t.Error("Events not closed after StopListening")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket path still present after StopListening: %v", err)
	}
	if _, err := Dial(path); err == nil {
		t.Error("Dial succeeded after StopListening")
	}

	// The accepted connection outlives the listener.
	if err := server.Send([]byte("still here")); err != nil {
		t.Fatalf("Send after StopListening: %v", err)
	}
	packet, err := client.Receive()
	if err != nil || string(packet.Data) != "still here" {
		t.Fatalf("Receive after StopListening = %v, %v", packet, err)
	}

	client.Close()
	if _, err := server.Receive(); !errors.Is(err, io.EOF) {
		t.Errorf("Receive after client hangup = %v, want io.EOF", err)
	}
}

// exchangeWithFd sends a packet with a pipe's write end from client to
// server and checks that the received descriptor reaches the same pipe.
func exchangeWithFd(t *testing.T, client *SocketConn, server Conn) {
	t.Helper()

	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	err = client.SendFds([]byte("request"), []int{int(writer.Fd())})
	writer.Close()
	if err != nil {
		t.Fatalf("SendFds: %v", err)
	}

	packet, err := server.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(packet.Data) != "request" {
		t.Errorf("packet data = %q, want %q", packet.Data, "request")
	}
	if len(packet.Fds) != 1 {
		t.Fatalf("packet carries %d fds, want 1", len(packet.Fds))
	}

	flags, err := unix.FcntlInt(uintptr(packet.Fds[0]), unix.F_GETFD, 0)
	if err != nil {
		t.Fatalf("F_GETFD: %v", err)
	}
	if flags&unix.FD_CLOEXEC == 0 {
		t.Error("received descriptor is not close-on-exec")
	}

	if _, err := unix.Write(packet.Fds[0], []byte("through the socket")); err != nil {
		t.Fatalf("writing received fd: %v", err)
	}
	packet.CloseFds()
	if packet.Fds != nil {
		t.Error("CloseFds left descriptors in the packet")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "through the socket" {
		t.Errorf("pipe received %q", data)
	}

	if err := server.Send([]byte("reply")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := client.Receive()
	if err != nil {
		t.Fatalf("client Receive: %v", err)
	}
	if string(reply.Data) != "reply" || len(reply.Fds) != 0 {
		t.Errorf("reply = %q with %d fds", reply.Data, len(reply.Fds))
	}
}

func TestSocketListenerDirectory(t *testing.T) {
	directory := testutil.SocketDir(t)

	listener := NewSocketListener(SocketOptions{Directory: directory})
	listener.Start()
	defer listener.StopListening()

	ready := requireEvent[Ready](t, listener.Events())
	if filepath.Dir(ready.Address) != directory {
		t.Errorf("socket %q not in %q", ready.Address, directory)
	}
	base := filepath.Base(ready.Address)
	if !strings.HasPrefix(base, "spawnd-") || !strings.HasSuffix(base, ".sock") {
		t.Errorf("generated socket name = %q", base)
	}

	other := NewSocketListener(SocketOptions{Directory: directory})
	other.Start()
	defer other.StopListening()
	if second := requireEvent[Ready](t, other.Events()); second.Address == ready.Address {
		t.Errorf("two listeners share generated address %q", second.Address)
	}
}

func TestSocketListenerBindFailure(t *testing.T) {
	directory := testutil.SocketDir(t)
	blocker := filepath.Join(directory, "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		options SocketOptions
	}{
		{"parent is a file", SocketOptions{Path: filepath.Join(blocker, "launcher.sock")}},
		{"directory missing", SocketOptions{Directory: filepath.Join(directory, "missing")}},
		{"path too long", SocketOptions{Path: filepath.Join(directory, strings.Repeat("x", 120))}},
		{"path is a regular file", SocketOptions{Path: blocker}},
		{"path is a directory", SocketOptions{Path: directory}},
		{"nothing to bind", SocketOptions{}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			listener := NewSocketListener(test.options)
			listener.Start()
			failed := requireEvent[Failed](t, listener.Events())
			if failed.Err == nil {
				t.Error("Failed event without an error")
			}
			if _, ok := <-listener.Events(); ok {
				t.Error("event after Failed")
			}
		})
	}

	if _, err := os.Stat(blocker); err != nil {
		t.Errorf("regular file at the socket path was removed: %v", err)
	}
}

func TestStopListeningBeforeReadyIsDelivered(t *testing.T) {
	listener := NewSocketListener(SocketOptions{Directory: testutil.SocketDir(t)})
	listener.Start()
	listener.StopListening()

	// Whatever was in flight, the channel must close.
	for range listener.Events() {
	}
}

func TestPair(t *testing.T) {
	first, second, err := Pair()
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	defer first.Close()
	defer second.Close()

	exchangeWithFd(t, first, second)

	tooMany := make([]int, MaxFds+1)
	if err := first.SendFds([]byte("x"), tooMany); err == nil {
		t.Errorf("SendFds with %d fds succeeded", len(tooMany))
	}
}
