// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bureau-foundation/spawnd/lib/clock"
	"github.com/bureau-foundation/spawnd/lib/config"
	"github.com/bureau-foundation/spawnd/lib/spawn"
	"github.com/bureau-foundation/spawnd/lib/version"
	"github.com/bureau-foundation/spawnd/transport"
)

// ExitUnavailable is the exit status when the transport could not be
// brought up (EX_UNAVAILABLE).
const ExitUnavailable = 69

// GraceDelay is how long the server keeps answering client
// connections after a stop, once in-flight requests have been
// answered.
const GraceDelay = 500 * time.Millisecond

// Options are the collaborators of a Server. Only Transport is
// required.
type Options struct {
	Transport transport.Transport

	// Clock drives the grace delay. Defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger

	// Environ is the environment snapshot children inherit. Defaults
	// to os.Environ() at construction.
	Environ []string

	// Getwd reports the server's working directory, recorded once at
	// construction. Defaults to os.Getwd.
	Getwd func() (string, error)

	// Signals delivers OS signals that stop the server, normally the
	// channel returned by NotifySignals. Nil disables the bridge.
	Signals <-chan os.Signal

	// AwaitBusName is set for transports that claim a bus name: the
	// server is not started until BusNameAcquired, and a lost name
	// before then is fatal.
	AwaitBusName bool

	// Replace replaces the running process with argv under env. It is
	// the last resort when the transport fails before startup and the
	// configuration asks for ReplaceOnFailure. It returns only on
	// failure.
	Replace func(argv, env []string) error
}

// mainProcess marks the wrapped command while it is alive. The pid
// alone is not enough: once reaped, the number can be reused.
type mainProcess struct {
	present   bool
	pid       int
	pidString string
}

// Server is the launcher. Create it with New and drive it with Run.
type Server struct {
	config    *config.Config
	transport transport.Transport
	clock     clock.Clock
	logger    *slog.Logger
	signals   <-chan os.Signal
	replace   func(argv, env []string) error

	awaitBusName bool

	// environment and workingDirectory are the startup snapshot.
	environment      map[string]string
	environ          []string
	workingDirectory string

	// tasks carries work from other goroutines into the loop. done is
	// closed when the loop returns; later posts are dropped.
	tasks chan func()
	done  chan struct{}

	// inFlight counts requests read from a connection and not yet
	// answered. Readers increment it, the loop decrements it.
	inFlight atomic.Int64

	// Everything below is owned by the loop.

	state    ExportState
	started  bool
	stopping bool
	status   int

	table *ProcessTable
	main  mainProcess
	conns map[transport.Conn]struct{}

	// deferred runs after the current task completes.
	deferred []func()

	// drainPending is set while a stop waits for in-flight requests.
	drainPending bool
	graceTimer   *clock.Timer

	infoWritten bool
}

// New creates a server for cfg. The configuration must already be
// valid; see config.Parse.
func New(cfg *config.Config, options Options) (*Server, error) {
	if options.Transport == nil {
		return nil, errors.New("launcher: no transport")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Environ == nil {
		options.Environ = os.Environ()
	}
	if options.Getwd == nil {
		options.Getwd = os.Getwd
	}

	workingDirectory, err := options.Getwd()
	if err != nil {
		return nil, fmt.Errorf("launcher: recording working directory: %w", err)
	}

	server := &Server{
		config:           cfg,
		transport:        options.Transport,
		clock:            options.Clock,
		logger:           options.Logger,
		signals:          options.Signals,
		replace:          options.Replace,
		awaitBusName:     options.AwaitBusName,
		environment:      environmentMap(options.Environ),
		environ:          options.Environ,
		workingDirectory: workingDirectory,
		tasks:            make(chan func()),
		done:             make(chan struct{}),
		status:           config.ExitUsage,
		table:            NewProcessTable(),
		conns:            make(map[transport.Conn]struct{}),
	}
	if options.AwaitBusName {
		server.status = ExitUnavailable
	}
	return server, nil
}

// Run processes events until the interface is gone and every child has
// been reaped, then returns the exit status the process should use.
// Cancelling ctx stops the server the same way SIGTERM does. Run must
// be called once.
func (s *Server) Run(ctx context.Context) int {
	defer close(s.done)

	if s.config.ExitOnReadableFd >= 0 {
		go s.watchReadable(s.config.ExitOnReadableFd)
	}

	events := s.transport.Events()
	ctxDone := ctx.Done()
	for s.state != Gone || s.table.Len() > 0 {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				s.logger.Debug("transport event stream closed")
				continue
			}
			s.handleTransportEvent(event)

		case signal := <-s.signals:
			s.handleSignal(signal)

		case <-ctxDone:
			ctxDone = nil
			s.logger.Info("context cancelled, stopping")
			s.stop(syscall.SIGTERM)

		case task := <-s.tasks:
			task()
		}
		s.runDeferred()
	}

	s.closeConnections()
	s.logger.Debug("launcher finished", "status", s.status)
	return s.status
}

// post hands task to the loop. It reports false, without running task,
// if the loop has already finished.
func (s *Server) post(task func()) bool {
	select {
	case s.tasks <- task:
		return true
	case <-s.done:
		return false
	}
}

// Stop asks the loop to stop the server, forwarding sig to every
// tracked process. Safe to call from any goroutine, any number of
// times.
func (s *Server) Stop(sig syscall.Signal) {
	s.post(func() { s.stop(sig) })
}

// afterTask queues f to run once the current task has finished.
func (s *Server) afterTask(f func()) {
	s.deferred = append(s.deferred, f)
}

func (s *Server) runDeferred() {
	for len(s.deferred) > 0 {
		f := s.deferred[0]
		s.deferred = s.deferred[1:]
		f()
	}
}

func (s *Server) advance(next ExportState) {
	previous := s.state
	if s.state.advance(next) {
		s.logger.Debug("export state changed", "from", previous, "to", next)
	}
}

func (s *Server) handleTransportEvent(event transport.Event) {
	switch event := event.(type) {
	case transport.Ready:
		s.advance(Listening)
		s.writeInfo(event.Address)
		if !s.awaitBusName {
			s.completeStartup()
		}

	case transport.BusNameAcquired:
		s.logger.Info("bus name acquired", "name", event.Name)
		s.advance(Exported)
		s.completeStartup()

	case transport.BusNameLost:
		s.logger.Warn("bus name lost", "name", event.Name)
		if s.config.StopOnNameLoss || !s.started {
			s.stop(syscall.SIGTERM)
		}

	case transport.Connected:
		s.handleConnected(event.Conn)

	case transport.Failed:
		s.handleTransportFailure(event.Err)

	default:
		s.logger.Error("unknown transport event", "event", fmt.Sprintf("%T", event), "bug", true)
	}
}

// completeStartup runs once the interface is reachable: it launches the
// wrapped command, if any, and marks the server started.
func (s *Server) completeStartup() {
	if s.started || s.stopping {
		return
	}
	if len(s.config.Command) > 0 {
		if err := s.launchMain(); err != nil {
			s.logger.Error("starting command failed", "command", s.config.Command, "error", err)
			s.stop(syscall.SIGTERM)
			return
		}
	}
	s.started = true
	s.status = 0
	s.logger.Info("launcher started", "version", version.Short())
}

// launchMain starts the wrapped command. It stays in the launcher's
// session and inherits its standard streams, standing in for the
// launcher itself.
func (s *Server) launchMain() error {
	env := s.composeEnvironment(environmentRequest{})
	pid, err := spawn.Start(&spawn.Attr{
		Argv:        s.config.Command,
		Env:         env,
		KeepSession: true,
	})
	if err != nil {
		return err
	}

	s.track(&ProcessRecord{Pid: pid, TerminateAfter: s.config.StopOnExit})
	s.main = mainProcess{present: true, pid: pid, pidString: strconv.Itoa(pid)}
	s.logger.Info("started command", "pid", pid, "command", s.config.Command)
	return nil
}

func (s *Server) handleTransportFailure(err error) {
	s.logger.Error("transport failed", "error", err)
	if s.started {
		s.stop(syscall.SIGTERM)
		return
	}

	s.status = ExitUnavailable
	if s.config.ReplaceOnFailure && len(s.config.Command) > 0 && s.replace != nil && !s.stopping {
		s.logger.Warn("replacing launcher with command", "command", s.config.Command)
		replaceErr := s.replace(s.config.Command, s.environ)
		s.logger.Error("replacing launcher failed", "command", s.config.Command, "error", replaceErr)
	}
	s.stop(syscall.SIGTERM)
}

func (s *Server) handleSignal(signal os.Signal) {
	sig, ok := signal.(syscall.Signal)
	if !ok {
		s.logger.Warn("ignoring unexpected signal value", "signal", signal)
		return
	}
	s.logger.Info("received signal", "signal", sig)
	s.stop(sig)
}

// writeInfo reports the bound address on the info fd, once.
func (s *Server) writeInfo(address string) {
	if s.config.InfoFd < 0 || s.infoWritten {
		return
	}
	s.infoWritten = true

	file := os.NewFile(uintptr(s.config.InfoFd), "info-fd")
	defer file.Close()
	if _, err := fmt.Fprintf(file, "socket=%s\n", address); err != nil {
		s.logger.Warn("writing info fd failed", "fd", s.config.InfoFd, "error", err)
	}
}
