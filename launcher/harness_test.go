// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/spawnd/lib/clock"
	"github.com/bureau-foundation/spawnd/lib/codec"
	"github.com/bureau-foundation/spawnd/lib/config"
	"github.com/bureau-foundation/spawnd/lib/ipc"
	"github.com/bureau-foundation/spawnd/lib/testutil"
	"github.com/bureau-foundation/spawnd/transport"
)

const timeout = 5 * time.Second

// fakeTransport lets a test inject transport events by hand.
type fakeTransport struct {
	events   chan transport.Event
	stopped  chan struct{}
	stopOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:  make(chan transport.Event, 16),
		stopped: make(chan struct{}),
	}
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) StopListening() {
	f.stopOnce.Do(func() { close(f.stopped) })
}

// namedConn gives a socket connection a bus-style client identity.
type namedConn struct {
	*transport.SocketConn
	id string
}

func (c *namedConn) ClientID() string { return c.id }

type harness struct {
	t         *testing.T
	server    *Server
	transport *fakeTransport
	clock     *clock.FakeClock
	signals   chan os.Signal
	result    chan int
}

var testEnviron = []string{"PATH=/usr/bin:/bin", "HOME=/home/test"}

// startServer runs a server over a fake transport and a fake clock.
// Options fields the harness owns are overwritten.
func startServer(t *testing.T, cfg *config.Config, options Options) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		transport: newFakeTransport(),
		clock:     clock.Fake(time.Unix(1_700_000_000, 0)),
		signals:   make(chan os.Signal, 1),
		result:    make(chan int, 1),
	}
	options.Transport = h.transport
	options.Clock = h.clock
	options.Signals = h.signals
	options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if options.Environ == nil {
		options.Environ = testEnviron
	}
	if options.Getwd == nil {
		options.Getwd = func() (string, error) { return "/", nil }
	}

	server, err := New(cfg, options)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.server = server

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.result <- server.Run(ctx) }()

	t.Cleanup(func() {
		// Stop whatever is left and let the grace delay pass until the
		// loop returns.
		cancel()
		deadline := time.After(timeout)
		for {
			select {
			case <-server.done:
				return
			case <-time.After(10 * time.Millisecond):
				h.clock.Advance(GraceDelay)
			case <-deadline:
				t.Errorf("server did not finish during cleanup")
				return
			}
		}
	})
	return h
}

func defaultConfig() *config.Config {
	cfg := config.Default()
	cfg.SocketPath = "/test/launcher.sock"
	return cfg
}

func (h *harness) send(event transport.Event) {
	h.t.Helper()
	select {
	case h.transport.events <- event:
	case <-time.After(timeout):
		h.t.Fatalf("transport event %T not consumed", event)
	}
}

// ready reports the socket bound and waits until the server has seen
// it.
func (h *harness) ready() {
	h.t.Helper()
	h.send(transport.Ready{Address: "/test/launcher.sock"})
	h.eventually("transport ready", func() bool { return h.server.state >= Listening })
}

func failed(message string) transport.Event {
	return transport.Failed{Err: errors.New(message)}
}

func busAcquired() transport.Event {
	return transport.BusNameAcquired{Name: "org.example.Spawnd"}
}

func busLost() transport.Event {
	return transport.BusNameLost{Name: "org.example.Spawnd"}
}

// connect hands the server a new connection and returns the client end.
func (h *harness) connect(clientID string) *client {
	h.t.Helper()
	serverSide, clientSide, err := transport.Pair()
	if err != nil {
		h.t.Fatalf("transport.Pair: %v", err)
	}
	h.t.Cleanup(func() { clientSide.Close() })

	var conn transport.Conn = serverSide
	if clientID != "" {
		conn = &namedConn{SocketConn: serverSide, id: clientID}
	}
	h.send(transport.Connected{Conn: conn})
	return &client{t: h.t, conn: clientSide}
}

// inLoop runs f on the server loop and waits for it.
func (h *harness) inLoop(f func()) {
	h.t.Helper()
	done := make(chan struct{})
	if !h.server.post(func() { f(); close(done) }) {
		h.t.Fatal("server loop has finished")
	}
	testutil.RequireClosed(h.t, done, timeout, "task on server loop")
}

func (h *harness) state() ExportState {
	h.t.Helper()
	var state ExportState
	h.inLoop(func() { state = h.server.state })
	return state
}

// eventually polls condition on the loop until it holds.
func (h *harness) eventually(what string, condition func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		var ok bool
		h.inLoop(func() { ok = condition() })
		if ok {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// passGrace fires the grace timer once it has been armed.
func (h *harness) passGrace() {
	h.t.Helper()
	armed := make(chan struct{})
	go func() {
		h.clock.WaitForTimers(1)
		close(armed)
	}()
	testutil.RequireClosed(h.t, armed, timeout, "grace timer armed")
	h.clock.Advance(GraceDelay)
}

func (h *harness) finish() int {
	h.t.Helper()
	return testutil.RequireReceive(h.t, h.result, timeout, "server Run returning")
}

func (h *harness) requireStopped() {
	h.t.Helper()
	testutil.RequireClosed(h.t, h.transport.stopped, timeout, "transport StopListening")
}

// client is the test's end of one connection.
type client struct {
	t      *testing.T
	conn   *transport.SocketConn
	serial uint64
	events []*ipc.Event
}

type received struct {
	packet *transport.Packet
	err    error
}

func (c *client) receivePacket() received {
	c.t.Helper()
	results := make(chan received, 1)
	go func() {
		packet, err := c.conn.Receive()
		results <- received{packet, err}
	}()
	return testutil.RequireReceive(c.t, results, timeout, "waiting for server message")
}

func (c *client) receive() ipc.ServerMessage {
	c.t.Helper()
	result := c.receivePacket()
	if result.err != nil {
		c.t.Fatalf("client Receive: %v", result.err)
	}
	var message ipc.ServerMessage
	if err := codec.Unmarshal(result.packet.Data, &message); err != nil {
		c.t.Fatalf("decoding server message: %v", err)
	}
	return message
}

// call sends request with fds attached and returns its reply. Events
// arriving first are queued for nextEvent.
func (c *client) call(request ipc.Request, fds ...int) *ipc.Reply {
	c.t.Helper()
	c.serial++
	request.Serial = c.serial
	data, err := codec.Marshal(request)
	if err != nil {
		c.t.Fatalf("encoding request: %v", err)
	}
	if err := c.conn.SendFds(data, fds); err != nil {
		c.t.Fatalf("sending request: %v", err)
	}
	return c.awaitReply(request.Serial)
}

func (c *client) awaitReply(serial uint64) *ipc.Reply {
	c.t.Helper()
	for {
		message := c.receive()
		if message.Event != nil {
			c.events = append(c.events, message.Event)
			continue
		}
		if message.Reply == nil {
			c.t.Fatal("empty server message")
		}
		if message.Reply.Serial != serial {
			c.t.Fatalf("reply serial = %d, want %d", message.Reply.Serial, serial)
		}
		return message.Reply
	}
}

func (c *client) nextEvent() *ipc.Event {
	c.t.Helper()
	if len(c.events) > 0 {
		event := c.events[0]
		c.events = c.events[1:]
		return event
	}
	message := c.receive()
	if message.Event == nil {
		c.t.Fatalf("got %+v, want an event", message)
	}
	return message.Event
}

// launch requires a successful launch and returns the pid.
func (c *client) launch(request ipc.Request, fds ...int) int {
	c.t.Helper()
	request.Action = ipc.ActionLaunch
	reply := c.call(request, fds...)
	if !reply.OK {
		c.t.Fatalf("launch %v: %v", request.Argv, reply.Err())
	}
	if reply.Pid == 0 {
		c.t.Fatalf("launch %v returned pid 0", request.Argv)
	}
	return int(reply.Pid)
}

// requireHangup waits for the server to close the connection.
func (c *client) requireHangup() {
	c.t.Helper()
	for {
		result := c.receivePacket()
		if result.err == io.EOF {
			return
		}
		if result.err != nil {
			c.t.Fatalf("Receive = %v, want io.EOF", result.err)
		}
	}
}

// capture returns a pipe for a child's output: pass the write end's
// number as a handle, then call the returned function to close the
// write end and collect everything written.
func capture(t *testing.T) (int, func() string) {
	t.Helper()
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		reader.Close()
		writer.Close()
	})
	return int(writer.Fd()), func() string {
		t.Helper()
		writer.Close()
		data, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("reading child output: %v", err)
		}
		return string(data)
	}
}
