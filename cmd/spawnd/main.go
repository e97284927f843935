// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// spawnd starts processes on behalf of clients connected to a private
// socket.
//
// Clients send launch requests with the descriptors the new process
// should receive attached; spawnd starts the process in a session of
// its own, reports the pid, forwards signals on request, and tells the
// client when the process exits. spawnd-launch is the command-line
// client.
//
// Usage:
//
//	spawnd --socket PATH [options] [-- COMMAND [ARGS...]]
//	spawnd --socket-directory DIR --info-fd 3 [options]
//
// With a COMMAND, spawnd starts it once the socket is listening and
// (unless --no-stop-on-exit) stops when it exits. Processes started by
// spawnd see the command's pid in MAINPID while it runs.
//
// spawnd stops on SIGHUP, SIGINT and SIGTERM, forwarding the signal to
// every process it started, and exits once they have all exited.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/spawnd/launcher"
	"github.com/bureau-foundation/spawnd/lib/config"
	"github.com/bureau-foundation/spawnd/lib/process"
	"github.com/bureau-foundation/spawnd/lib/version"
	"github.com/bureau-foundation/spawnd/transport"
)

const binaryName = "spawnd"

func main() {
	// Before anything else starts: the stop signals must never take
	// their default action.
	signals := launcher.NotifySignals()

	if err := run(signals); err != nil {
		var status exitStatus
		if errors.As(err, &status) {
			os.Exit(int(status))
		}
		process.Fatal(binaryName, err)
	}
}

// exitStatus carries the launcher's status out of run. The reason has
// already been logged.
type exitStatus int

func (s exitStatus) Error() string { return fmt.Sprintf("exit status %d", int(s)) }

func (s exitStatus) ExitCode() int { return int(s) }

func run(signals <-chan os.Signal) error {
	cfg, err := config.Parse(binaryName, os.Args[1:], os.LookupEnv)
	if errors.Is(err, pflag.ErrHelp) {
		printHelp()
		return nil
	}
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		version.Print(os.Stdout, binaryName)
		return nil
	}

	logger := newLogger(cfg.Verbose)
	slog.SetDefault(logger)

	status, err := serve(context.Background(), cfg, logger, signals)
	if err != nil {
		return err
	}
	if status != 0 {
		return exitStatus(status)
	}
	return nil
}

// serve runs the launcher on the configured socket until it finishes.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, signals <-chan os.Signal) (int, error) {
	listener := transport.NewSocketListener(transport.SocketOptions{
		Path:      cfg.SocketPath,
		Directory: cfg.SocketDirectory,
		Logger:    logger,
	})
	server, err := launcher.New(cfg, launcher.Options{
		Transport: listener,
		Logger:    logger,
		Signals:   signals,
		Replace:   replaceProcess,
	})
	if err != nil {
		return 0, err
	}

	listener.Start()
	return server.Run(ctx), nil
}

// replaceProcess execs argv in place of spawnd, keeping its standard
// streams.
func replaceProcess(argv, env []string) error {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return err
	}
	return syscall.Exec(path, argv, env)
}

// newLogger logs text to a terminal and JSON otherwise.
func newLogger(verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler).With("binary", binaryName)
}

func printHelp() {
	fmt.Fprintf(os.Stdout, "usage: %s (--socket PATH | --socket-directory DIR) [options] [-- COMMAND [ARGS...]]\n\n", binaryName)
	flagSet := config.Flags(binaryName)
	flagSet.SetOutput(os.Stdout)
	flagSet.PrintDefaults()
	fmt.Fprintf(os.Stdout, "\nThe configuration file may also be named by $%s.\n", config.EnvironmentVariable)
}
