// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawnclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"

	"github.com/bureau-foundation/spawnd/lib/codec"
	"github.com/bureau-foundation/spawnd/lib/ipc"
	"github.com/bureau-foundation/spawnd/transport"
)

// ErrClosed is returned by calls on a connection that has gone away.
var ErrClosed = errors.New("spawnclient: connection closed")

// exitBuffer bounds the Exited events queued for a slow reader of
// Exits. Beyond it the reader goroutine waits.
const exitBuffer = 64

// Client is one connection to a launcher.
type Client struct {
	conn *transport.SocketConn

	mu      sync.Mutex
	serial  uint64
	pending map[uint64]chan *ipc.Reply
	err     error

	exits chan ipc.Event
	done  chan struct{}
}

// Dial connects to the launcher listening at path.
func Dial(path string) (*Client, error) {
	conn, err := transport.Dial(path)
	if err != nil {
		return nil, fmt.Errorf("connecting to launcher at %s: %w", path, err)
	}
	return New(conn), nil
}

// New wraps an established connection and starts reading from it.
func New(conn *transport.SocketConn) *Client {
	client := &Client{
		conn:    conn,
		pending: make(map[uint64]chan *ipc.Reply),
		exits:   make(chan ipc.Event, exitBuffer),
		done:    make(chan struct{}),
	}
	go client.read()
	return client
}

// Exits delivers an event for each process launched over this
// connection as it exits. The channel is closed when the connection
// is.
func (c *Client) Exits() <-chan ipc.Event { return c.exits }

// Done is closed once the connection has failed or been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, once Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection. Pending calls return ErrClosed.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return nil
}

func (c *Client) read() {
	defer close(c.exits)
	for {
		packet, err := c.conn.Receive()
		if errors.Is(err, transport.ErrTruncated) {
			continue
		}
		if err != nil {
			c.fail(err)
			return
		}
		packet.CloseFds()

		var message ipc.ServerMessage
		if err := codec.Unmarshal(packet.Data, &message); err != nil {
			c.fail(fmt.Errorf("decoding server message: %w", err))
			return
		}
		switch {
		case message.Reply != nil:
			c.deliver(message.Reply)
		case message.Event != nil:
			if message.Event.Name != ipc.EventExited {
				continue
			}
			select {
			case c.exits <- *message.Event:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) deliver(reply *ipc.Reply) {
	c.mu.Lock()
	waiter, ok := c.pending[reply.Serial]
	delete(c.pending, reply.Serial)
	c.mu.Unlock()
	if ok {
		waiter <- reply
	}
}

// fail ends the connection with err and releases every waiting call.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
	c.conn.Close()
}

// Call sends request with fds attached and waits for its reply. A
// reply reporting failure is returned together with its error.
func (c *Client) Call(ctx context.Context, request ipc.Request, fds ...int) (*ipc.Reply, error) {
	waiter := make(chan *ipc.Reply, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
	c.serial++
	request.Serial = c.serial
	c.pending[request.Serial] = waiter
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, request.Serial)
		c.mu.Unlock()
	}

	data, err := codec.Marshal(request)
	if err != nil {
		forget()
		return nil, fmt.Errorf("encoding %s request: %w", request.Action, err)
	}
	if err := c.conn.SendFds(data, fds); err != nil {
		forget()
		return nil, fmt.Errorf("sending %s request: %w", request.Action, err)
	}

	select {
	case reply := <-waiter:
		return reply, reply.Err()
	case <-c.done:
		forget()
		return nil, fmt.Errorf("%w: %v", ErrClosed, c.Err())
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

// LaunchRequest describes a process to start. Fds[i] becomes fd i in
// the child, unless FdMap is set.
type LaunchRequest struct {
	Argv []string

	// Dir is the child's working directory. Empty uses the launcher's.
	Dir string

	Env      map[string]string
	UnsetEnv []string
	ClearEnv bool

	// Fds are the descriptors to send. Without FdMap, Fds[i] becomes
	// fd i in the child.
	Fds []int

	// FdMap maps a child descriptor number to an index into Fds.
	FdMap map[uint32]uint32

	// TerminateAfter stops the launcher once this process exits.
	TerminateAfter bool
}

// Launch starts a process and returns its pid.
func (c *Client) Launch(ctx context.Context, launch LaunchRequest) (int, error) {
	fdMap := launch.FdMap
	if fdMap == nil {
		fdMap = make(map[uint32]uint32, len(launch.Fds))
		for i := range launch.Fds {
			fdMap[uint32(i)] = uint32(i)
		}
	}

	request := ipc.Request{
		Action: ipc.ActionLaunch,
		Cwd:    launch.Dir,
		Argv:   launch.Argv,
		Fds:    fdMap,
		Envs:   launch.Env,
		Options: ipc.LaunchOptions{
			TerminateAfter: launch.TerminateAfter,
			UnsetEnv:       launch.UnsetEnv,
		},
	}
	if launch.ClearEnv {
		request.Flags |= ipc.FlagClearEnv
	}

	reply, err := c.Call(ctx, request, launch.Fds...)
	if err != nil {
		return 0, err
	}
	return int(reply.Pid), nil
}

// SendSignal delivers sig to a process launched over this connection,
// and to its process group when group is set.
func (c *Client) SendSignal(ctx context.Context, pid int, sig syscall.Signal, group bool) error {
	_, err := c.Call(ctx, ipc.Request{
		Action:         ipc.ActionSendSignal,
		Pid:            uint32(pid),
		Signal:         int32(sig),
		ToProcessGroup: group,
	})
	return err
}

// Terminate asks the launcher to stop.
func (c *Client) Terminate(ctx context.Context) error {
	_, err := c.Call(ctx, ipc.Request{Action: ipc.ActionTerminate})
	return err
}

// Info is what the launcher reports about itself.
type Info struct {
	Version        string
	SupportedFlags uint32
}

func (c *Client) Info(ctx context.Context) (*Info, error) {
	reply, err := c.Call(ctx, ipc.Request{Action: ipc.ActionGetInfo})
	if err != nil {
		return nil, err
	}
	return &Info{Version: reply.Version, SupportedFlags: reply.SupportedFlags}, nil
}
