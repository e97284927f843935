// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// spawnd-launch runs a command through a spawnd launcher and exits with
// the command's status.
//
// The command receives spawnd-launch's standard streams, plus any
// descriptors named with --forward-fd. Signals sent to spawnd-launch
// are forwarded to the command's process group.
//
// Usage:
//
//	spawnd-launch --socket PATH [options] -- COMMAND [ARGS...]
//	spawnd-launch --socket PATH --terminate
//	spawnd-launch --socket PATH --info
//
// The socket defaults to $SPAWND_SOCKET. A command killed by a signal
// makes spawnd-launch exit with 128 plus the signal number.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/bureau-foundation/spawnd/lib/config"
	"github.com/bureau-foundation/spawnd/lib/ipc"
	"github.com/bureau-foundation/spawnd/lib/process"
	"github.com/bureau-foundation/spawnd/lib/spawnclient"
	"github.com/bureau-foundation/spawnd/lib/version"
)

const binaryName = "spawnd-launch"

// socketVariable names the launcher socket when --socket is not given.
const socketVariable = "SPAWND_SOCKET"

// forwardedSignals are passed on to the command.
var forwardedSignals = []os.Signal{
	syscall.SIGHUP,
	syscall.SIGINT,
	syscall.SIGQUIT,
	syscall.SIGTERM,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
}

func main() {
	signals := make(chan os.Signal, len(forwardedSignals))
	signal.Notify(signals, forwardedSignals...)

	if err := run(signals); err != nil {
		var status exitStatus
		if errors.As(err, &status) {
			os.Exit(int(status))
		}
		process.Fatal(binaryName, err)
	}
}

// exitStatus is the command's status, passed through as ours.
type exitStatus int

func (s exitStatus) Error() string { return fmt.Sprintf("exit status %d", int(s)) }

func (s exitStatus) ExitCode() int { return int(s) }

type options struct {
	socket         string
	directory      string
	env            map[string]string
	unsetEnv       []string
	clearEnv       bool
	forwardFds     []int
	terminateAfter bool
	noProcessGroup bool
	terminate      bool
	info           bool
	verbose        bool
	showVersion    bool
	command        []string
}

func newFlagSet(opts *options, env *[]string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flagSet.StringVar(&opts.socket, "socket", "", "launcher socket (default $"+socketVariable+")")
	flagSet.StringVar(&opts.directory, "directory", "", "working directory of the command (default: the current directory)")
	flagSet.StringArrayVar(env, "env", nil, "set NAME=VALUE in the command's environment (repeatable)")
	flagSet.StringArrayVar(&opts.unsetEnv, "unset-env", nil, "remove NAME from the command's environment (repeatable)")
	flagSet.BoolVar(&opts.clearEnv, "clear-env", false, "start from an empty environment instead of the launcher's")
	flagSet.IntSliceVar(&opts.forwardFds, "forward-fd", nil, "pass this descriptor to the command under the same number (repeatable)")
	flagSet.BoolVar(&opts.terminateAfter, "terminate-after", false, "stop the launcher when the command exits")
	flagSet.BoolVar(&opts.noProcessGroup, "no-process-group", false, "forward signals to the command only, not its process group")
	flagSet.BoolVar(&opts.terminate, "terminate", false, "ask the launcher to stop, then exit")
	flagSet.BoolVar(&opts.info, "info", false, "print the launcher's version and supported flags, then exit")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flagSet.SetInterspersed(false)
	return flagSet
}

func usage(format string, args ...any) error {
	return &config.UsageError{Message: fmt.Sprintf(format, args...)}
}

// parseOptions reads the command line. lookup reads environment
// variables.
func parseOptions(args []string, lookup func(string) (string, bool)) (*options, error) {
	opts := &options{}
	var env []string
	flagSet := newFlagSet(opts, &env)
	flagSet.SetOutput(io.Discard)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, usage("%v", err)
	}
	if opts.showVersion {
		return opts, nil
	}

	if opts.socket == "" {
		opts.socket, _ = lookup(socketVariable)
	}
	if opts.socket == "" {
		return nil, usage("no launcher socket: use --socket or set $%s", socketVariable)
	}

	opts.env = make(map[string]string, len(env))
	for _, entry := range env {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || name == "" {
			return nil, usage("--env %q: want NAME=VALUE", entry)
		}
		opts.env[name] = value
	}

	for _, fd := range opts.forwardFds {
		if fd < 0 {
			return nil, usage("--forward-fd %d: not a descriptor", fd)
		}
	}

	opts.command = flagSet.Args()
	if opts.terminate && opts.info {
		return nil, usage("--terminate and --info are mutually exclusive")
	}
	if !opts.terminate && !opts.info && len(opts.command) == 0 {
		return nil, usage("no command given")
	}
	return opts, nil
}

func run(signals <-chan os.Signal) error {
	opts, err := parseOptions(os.Args[1:], os.LookupEnv)
	if errors.Is(err, pflag.ErrHelp) {
		printHelp()
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		version.Print(os.Stdout, binaryName)
		return nil
	}

	logger := newLogger(opts.verbose)
	status, err := execute(context.Background(), opts, logger, signals, os.Stdout)
	if err != nil {
		return err
	}
	if status != 0 {
		return exitStatus(status)
	}
	return nil
}

// execute carries out opts against the launcher and returns the status
// to exit with.
func execute(ctx context.Context, opts *options, logger *slog.Logger, signals <-chan os.Signal, stdout io.Writer) (int, error) {
	client, err := spawnclient.Dial(opts.socket)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	switch {
	case opts.terminate:
		return 0, client.Terminate(ctx)
	case opts.info:
		info, err := client.Info(ctx)
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(stdout, "version: %s\nsupported flags: %#x\n", info.Version, info.SupportedFlags)
		return 0, nil
	}

	if opts.clearEnv {
		info, err := client.Info(ctx)
		if err != nil {
			return 0, err
		}
		if info.SupportedFlags&ipc.FlagClearEnv == 0 {
			return 0, errors.New("the launcher does not support --clear-env")
		}
	}

	request, err := buildLaunch(opts)
	if err != nil {
		return 0, err
	}
	pid, err := client.Launch(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("launching %s: %w", opts.command[0], err)
	}
	logger.Debug("launched", "pid", pid, "command", opts.command)

	return wait(ctx, client, pid, !opts.noProcessGroup, logger, signals)
}

// buildLaunch turns opts into a launch request passing the standard
// streams and every forwarded descriptor under its own number.
func buildLaunch(opts *options) (spawnclient.LaunchRequest, error) {
	directory := opts.directory
	if directory == "" {
		var err error
		if directory, err = os.Getwd(); err != nil {
			return spawnclient.LaunchRequest{}, fmt.Errorf("determining working directory: %w", err)
		}
	}

	fds := []int{0, 1, 2}
	fdMap := map[uint32]uint32{0: 0, 1: 1, 2: 2}
	for _, fd := range opts.forwardFds {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
			return spawnclient.LaunchRequest{}, usage("--forward-fd %d: %v", fd, err)
		}
		fdMap[uint32(fd)] = uint32(len(fds))
		fds = append(fds, fd)
	}

	return spawnclient.LaunchRequest{
		Argv:           opts.command,
		Dir:            directory,
		Env:            opts.env,
		UnsetEnv:       opts.unsetEnv,
		ClearEnv:       opts.clearEnv,
		Fds:            fds,
		FdMap:          fdMap,
		TerminateAfter: opts.terminateAfter,
	}, nil
}

// wait forwards signals to pid until it exits and returns the status
// to exit with.
func wait(ctx context.Context, client *spawnclient.Client, pid int, group bool, logger *slog.Logger, signals <-chan os.Signal) (int, error) {
	for {
		select {
		case sig := <-signals:
			number, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			if err := client.SendSignal(ctx, pid, number, group); err != nil {
				logger.Debug("forwarding signal failed", "signal", number, "error", err)
			}

		case event, ok := <-client.Exits():
			if !ok {
				return 0, fmt.Errorf("lost connection to launcher: %w", client.Err())
			}
			if int(event.Pid) != pid {
				continue
			}
			return statusCode(unix.WaitStatus(event.WaitStatus)), nil

		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// statusCode maps a wait status the way shells do.
func statusCode(status unix.WaitStatus) int {
	switch {
	case status.Exited():
		return status.ExitStatus()
	case status.Signaled():
		return 128 + int(status.Signal())
	default:
		return 1
	}
}

func newLogger(verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelWarn}
	if verbose {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func printHelp() {
	fmt.Fprintf(os.Stdout, "usage: %s [options] -- COMMAND [ARGS...]\n       %s [options] --terminate | --info\n\n", binaryName, binaryName)
	flagSet := newFlagSet(&options{}, new([]string))
	flagSet.SetOutput(os.Stdout)
	flagSet.PrintDefaults()
}
