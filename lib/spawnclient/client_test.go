// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawnclient

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/spawnd/lib/codec"
	"github.com/bureau-foundation/spawnd/lib/ipc"
	"github.com/bureau-foundation/spawnd/lib/testutil"
	"github.com/bureau-foundation/spawnd/transport"
)

const timeout = 5 * time.Second

// fakeServer is the launcher end of a connection, driven by the test.
type fakeServer struct {
	t    *testing.T
	conn *transport.SocketConn
}

func newPair(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	serverSide, clientSide, err := transport.Pair()
	if err != nil {
		t.Fatalf("transport.Pair: %v", err)
	}
	client := New(clientSide)
	t.Cleanup(func() {
		client.Close()
		serverSide.Close()
	})
	return client, &fakeServer{t: t, conn: serverSide}
}

// request reads one request and its descriptors.
func (s *fakeServer) request() (ipc.Request, []int) {
	s.t.Helper()
	packet, err := s.conn.Receive()
	if err != nil {
		s.t.Errorf("server Receive: %v", err)
		return ipc.Request{}, nil
	}
	var request ipc.Request
	if err := codec.Unmarshal(packet.Data, &request); err != nil {
		s.t.Errorf("decoding request: %v", err)
	}
	return request, packet.Fds
}

func (s *fakeServer) send(message ipc.ServerMessage) {
	s.t.Helper()
	data, err := codec.Marshal(message)
	if err != nil {
		s.t.Errorf("encoding: %v", err)
		return
	}
	if err := s.conn.Send(data); err != nil {
		s.t.Errorf("server Send: %v", err)
	}
}

type callResult struct {
	reply *ipc.Reply
	err   error
}

func TestRepliesMatchedBySerial(t *testing.T) {
	client, server := newPair(t)

	// The server answers two calls in reverse order, with an event in
	// between.
	go func() {
		first, _ := server.request()
		second, _ := server.request()
		server.send(ipc.ServerMessage{Reply: &ipc.Reply{Serial: second.Serial, OK: true, Version: second.Action}})
		server.send(ipc.ServerMessage{Event: &ipc.Event{Name: ipc.EventExited, Pid: 42, WaitStatus: 256}})
		server.send(ipc.ServerMessage{Reply: &ipc.Reply{Serial: first.Serial, OK: true, Version: first.Action}})
	}()

	results := make(chan callResult, 2)
	call := func(action string) {
		reply, err := client.Call(context.Background(), ipc.Request{Action: action})
		results <- callResult{reply, err}
	}
	go call("first")
	go call("second")

	for range 2 {
		result := testutil.RequireReceive(t, results, timeout, "call result")
		if result.err != nil {
			t.Fatalf("Call: %v", result.err)
		}
		if result.reply.Version != "first" && result.reply.Version != "second" {
			t.Errorf("reply %+v matched to the wrong call", result.reply)
		}
	}

	event := testutil.RequireReceive(t, client.Exits(), timeout, "Exited event")
	if event.Pid != 42 || syscall.WaitStatus(event.WaitStatus).ExitStatus() != 1 {
		t.Errorf("event = %+v", event)
	}
}

func TestLaunchRequest(t *testing.T) {
	client, server := newPair(t)

	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	defer writer.Close()

	requests := make(chan ipc.Request, 1)
	go func() {
		request, fds := server.request()
		for _, fd := range fds {
			syscall.Close(fd)
		}
		if len(fds) != 2 {
			t.Errorf("request carried %d fds, want 2", len(fds))
		}
		requests <- request
		server.send(ipc.ServerMessage{Reply: &ipc.Reply{Serial: request.Serial, OK: true, Pid: 1234}})
	}()

	pid, err := client.Launch(context.Background(), LaunchRequest{
		Argv:           []string{"make"},
		Dir:            "/src",
		Env:            map[string]string{"CC": "gcc"},
		UnsetEnv:       []string{"LANG"},
		ClearEnv:       true,
		Fds:            []int{int(reader.Fd()), int(writer.Fd())},
		TerminateAfter: true,
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if pid != 1234 {
		t.Errorf("pid = %d, want 1234", pid)
	}

	request := testutil.RequireReceive(t, requests, timeout, "launch request")
	if request.Action != ipc.ActionLaunch || request.Cwd != "/src" || request.Argv[0] != "make" {
		t.Errorf("request = %+v", request)
	}
	if request.Flags != ipc.FlagClearEnv {
		t.Errorf("flags = %#x, want ClearEnv", request.Flags)
	}
	if len(request.Fds) != 2 || request.Fds[0] != 0 || request.Fds[1] != 1 {
		t.Errorf("fd map = %v, want identity over two descriptors", request.Fds)
	}
	if !request.Options.TerminateAfter || len(request.Options.UnsetEnv) != 1 || request.Envs["CC"] != "gcc" {
		t.Errorf("options = %+v, envs = %v", request.Options, request.Envs)
	}
}

func TestReplyError(t *testing.T) {
	client, server := newPair(t)
	go func() {
		request, _ := server.request()
		server.send(ipc.ServerMessage{Reply: &ipc.Reply{
			Serial:    request.Serial,
			ErrorName: ipc.ErrUnixProcessIdUnknown,
			Error:     "process 7 unknown",
		}})
	}()

	err := client.SendSignal(context.Background(), 7, syscall.SIGTERM, true)
	if !errors.Is(err, &ipc.Error{Name: ipc.ErrUnixProcessIdUnknown}) {
		t.Errorf("SendSignal = %v, want UnixProcessIdUnknown", err)
	}
}

func TestConnectionLoss(t *testing.T) {
	client, server := newPair(t)
	go func() {
		server.request()
		server.conn.Close()
	}()

	err := client.Terminate(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Terminate on a dropped connection = %v, want ErrClosed", err)
	}
	testutil.RequireClosed(t, client.Done(), timeout, "client done")
	if _, ok := <-client.Exits(); ok {
		t.Error("Exits delivered an event after the connection dropped")
	}
	if _, err := client.Info(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Info after loss = %v, want ErrClosed", err)
	}
}

func TestCallCancelled(t *testing.T) {
	client, _ := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Call(ctx, ipc.Request{Action: ipc.ActionGetInfo}); !errors.Is(err, context.Canceled) {
		t.Errorf("Call with cancelled context = %v", err)
	}
}
