// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// maxSocketPath is the usable length of sockaddr_un.sun_path.
const maxSocketPath = 107

var _ Transport = (*SocketListener)(nil)

// SocketOptions selects where a SocketListener binds. Exactly one of
// Path and Directory is set.
type SocketOptions struct {
	// Path is the socket path. A stale socket there is replaced.
	Path string

	// Directory receives a socket with a generated, unique name.
	Directory string

	Logger *slog.Logger
}

// SocketListener accepts launcher clients on a private Unix socket.
type SocketListener struct {
	options SocketOptions
	logger  *slog.Logger
	events  chan Event

	// stopped is closed by StopListening.
	stopped  chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	listener *net.UnixListener
	address  string
}

// NewSocketListener prepares a listener. Nothing is bound until Start.
func NewSocketListener(options SocketOptions) *SocketListener {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SocketListener{
		options: options,
		logger:  logger,
		events:  make(chan Event),
		stopped: make(chan struct{}),
	}
}

// Events implements Transport.
func (l *SocketListener) Events() <-chan Event { return l.events }

// Start binds the socket and begins accepting in the background. A
// bind failure is delivered as a Failed event, like any later failure.
func (l *SocketListener) Start() {
	go l.run()
}

func (l *SocketListener) run() {
	defer close(l.events)

	listener, address, err := l.bind()
	if err != nil {
		l.emit(Failed{Err: err})
		return
	}

	l.mu.Lock()
	select {
	case <-l.stopped:
		l.mu.Unlock()
		listener.Close()
		return
	default:
	}
	l.listener = listener
	l.address = address
	l.mu.Unlock()

	l.logger.Info("listening", "socket", address)
	if !l.emit(Ready{Address: address}) {
		return
	}

	for {
		conn, err := listener.AcceptUnix()
		if err != nil {
			select {
			case <-l.stopped:
				return
			default:
			}
			l.emit(Failed{Err: fmt.Errorf("accepting on %s: %w", address, err)})
			l.StopListening()
			return
		}
		if !l.emit(Connected{Conn: newSocketConn(conn)}) {
			conn.Close()
			return
		}
	}
}

// emit delivers event unless the listener stops first.
func (l *SocketListener) emit(event Event) bool {
	select {
	case l.events <- event:
		return true
	case <-l.stopped:
		return false
	}
}

func (l *SocketListener) bind() (*net.UnixListener, string, error) {
	path := l.options.Path
	switch {
	case path != "" && l.options.Directory != "":
		return nil, "", errors.New("socket path and socket directory are mutually exclusive")
	case path == "" && l.options.Directory == "":
		return nil, "", errors.New("no socket path or socket directory")
	case path == "":
		path = filepath.Join(l.options.Directory, "spawnd-"+uuid.NewString()+".sock")
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, "", fmt.Errorf("creating socket directory %s: %w", filepath.Dir(path), err)
		}
		if err := removeStaleSocket(path); err != nil {
			return nil, "", err
		}
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	if len(path) > maxSocketPath {
		return nil, "", fmt.Errorf("socket path %s is longer than %d bytes", path, maxSocketPath)
	}

	listener, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, "", fmt.Errorf("listening on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return nil, "", fmt.Errorf("setting socket permissions: %w", err)
	}
	return listener, path, nil
}

// removeStaleSocket clears a socket left at path by an earlier run.
// Anything other than a socket is left alone and reported.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking socket path %s: %w", path, err)
	}
	if info.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("socket path %s exists and is not a socket (%v)", path, info.Mode().Type())
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	return nil
}

// Address returns the bound socket path, or "" before Ready.
func (l *SocketListener) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}

// StopListening closes the listening socket and removes its path.
// Accepted connections are unaffected.
func (l *SocketListener) StopListening() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		close(l.stopped)
		if l.listener != nil {
			// Closing also unlinks the path, since the listener created it.
			l.listener.Close()
			l.logger.Debug("stopped listening", "socket", l.address)
		}
	})
}
