// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// MaxPacketSize bounds one message. Larger packets are truncated by
	// the kernel and rejected with ErrTruncated.
	MaxPacketSize = 256 * 1024

	// MaxFds is the kernel's SCM_MAX_FD: the most descriptors one
	// packet can carry.
	MaxFds = 253
)

// ErrTruncated reports a packet or its descriptor list that did not fit
// the receive buffers. The connection remains usable.
var ErrTruncated = errors.New("transport: packet truncated")

var _ Conn = (*SocketConn)(nil)

// SocketConn is a SOCK_SEQPACKET Unix socket connection.
type SocketConn struct {
	conn *net.UnixConn

	receiveMu sync.Mutex
	buffer    []byte
	oob       []byte

	sendMu sync.Mutex
}

func newSocketConn(conn *net.UnixConn) *SocketConn {
	return &SocketConn{
		conn:   conn,
		buffer: make([]byte, MaxPacketSize),
		oob:    make([]byte, unix.CmsgSpace(MaxFds*4)),
	}
}

// Dial connects to the launcher socket at path.
func Dial(path string) (*SocketConn, error) {
	conn, err := net.DialUnix("unixpacket", nil, &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, err
	}
	return newSocketConn(conn), nil
}

// Pair returns two connected sockets.
func Pair() (*SocketConn, *SocketConn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	first, err := fileConn(fds[0])
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	second, err := fileConn(fds[1])
	if err != nil {
		first.Close()
		return nil, nil, err
	}
	return first, second, nil
}

// fileConn wraps a socket fd, taking ownership of it.
func fileConn(fd int) (*SocketConn, error) {
	file := os.NewFile(uintptr(fd), "unixpacket")
	defer file.Close()
	conn, err := net.FileConn(file)
	if err != nil {
		return nil, err
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("fd %d is not a unix socket", fd)
	}
	return newSocketConn(unixConn), nil
}

func (c *SocketConn) ClientID() string { return "" }

func (c *SocketConn) Receive() (*Packet, error) {
	c.receiveMu.Lock()
	defer c.receiveMu.Unlock()

	n, oobn, flags, _, err := c.conn.ReadMsgUnix(c.buffer, c.oob)
	if err != nil {
		return nil, err
	}
	fds, err := parseRights(c.oob[:oobn])
	if err != nil {
		return nil, err
	}
	if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
		closeFds(fds)
		return nil, ErrTruncated
	}
	if n == 0 && len(fds) == 0 {
		return nil, io.EOF
	}

	return &Packet{
		Data: append([]byte(nil), c.buffer[:n]...),
		Fds:  fds,
	}, nil
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parsing control message: %w", err)
	}
	var fds []int
	for i := range messages {
		if messages[i].Header.Level != unix.SOL_SOCKET || messages[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		rights, err := unix.ParseUnixRights(&messages[i])
		if err != nil {
			closeFds(fds)
			return nil, fmt.Errorf("parsing SCM_RIGHTS: %w", err)
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

func (c *SocketConn) Send(data []byte) error {
	return c.SendFds(data, nil)
}

// SendFds writes one packet with fds attached. The caller keeps
// ownership of fds.
func (c *SocketConn) SendFds(data []byte, fds []int) error {
	if len(fds) > MaxFds {
		return fmt.Errorf("transport: %d descriptors exceed the limit of %d", len(fds), MaxFds)
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, _, err := c.conn.WriteMsgUnix(data, oob, nil)
	return err
}

func (c *SocketConn) Close() error {
	return c.conn.Close()
}

// CloseFds closes every descriptor in the packet.
func (p *Packet) CloseFds() {
	closeFds(p.Fds)
	p.Fds = nil
}

func closeFds(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
