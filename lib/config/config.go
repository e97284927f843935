// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ExitUsage is the exit status for a usage error (EX_USAGE).
const ExitUsage = 64

// EnvironmentVariable names a configuration file when --config is not
// given.
const EnvironmentVariable = "SPAWND_CONFIG"

// Config is the launcher's configuration, fixed for the process
// lifetime.
type Config struct {
	// SocketPath is the path of the listening socket. Exactly one of
	// SocketPath and SocketDirectory is set.
	SocketPath string `yaml:"socket" json:"socket"`

	// SocketDirectory holds a listening socket with a generated name.
	SocketDirectory string `yaml:"socket_directory" json:"socket_directory"`

	// InfoFd receives "socket=<path>" once the socket is listening, and
	// is then closed. -1 disables it.
	InfoFd int `yaml:"info_fd" json:"info_fd"`

	// ExitOnReadableFd stops the launcher when it becomes readable or
	// hangs up. -1 disables it.
	ExitOnReadableFd int `yaml:"exit_on_readable_fd" json:"exit_on_readable_fd"`

	// StopOnExit stops the launcher when Command exits.
	StopOnExit bool `yaml:"stop_on_exit" json:"stop_on_exit"`

	// StopOnNameLoss stops the launcher when a claimed bus name is
	// lost. Only transports that claim a bus name report the loss; the
	// socket transport in cmd/spawnd never does, so the setting matters
	// to programs embedding the launcher with such a transport.
	StopOnNameLoss bool `yaml:"stop_on_name_loss" json:"stop_on_name_loss"`

	// ReplaceOnFailure execs Command directly when the transport fails
	// before startup completes.
	ReplaceOnFailure bool `yaml:"replace_on_failure" json:"replace_on_failure"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Command is the wrapped command, launched once the socket is
	// ready. Empty means none.
	Command []string `yaml:"command" json:"command"`

	// ShowVersion asks the binary to print its version and exit.
	ShowVersion bool `yaml:"-" json:"-"`
}

// Default returns the configuration used before the file and flags are
// applied.
func Default() *Config {
	return &Config{
		InfoFd:           -1,
		ExitOnReadableFd: -1,
		StopOnExit:       true,
		StopOnNameLoss:   true,
	}
}

// UsageError reports invalid arguments or configuration.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

// ExitCode lets main pick the exit status without importing this
// package's constants.
func (e *UsageError) ExitCode() int { return ExitUsage }

func usage(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// Flags registers the launcher's flags on a new flag set.
func Flags(name string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.String("socket", "", "listen on this socket path")
	flagSet.String("socket-directory", "", "listen on a socket with a generated name in this directory")
	flagSet.Int("info-fd", -1, "write socket=PATH to this fd once listening, then close it")
	flagSet.Int("exit-on-readable", -1, "stop when this fd becomes readable or reaches end of file")
	flagSet.Bool("no-stop-on-exit", false, "keep running after the wrapped command exits")
	flagSet.Bool("no-stop-on-name-loss", false, "keep running after losing the bus name (bus transports only)")
	flagSet.Bool("replace-on-failure", false, "exec the wrapped command if the socket cannot be set up")
	flagSet.String("config", "", "configuration file (YAML, or JSON with comments)")
	flagSet.BoolP("verbose", "v", false, "log at debug level")
	flagSet.Bool("version", false, "print version information and exit")
	flagSet.SetInterspersed(false)
	return flagSet
}

// Parse builds a Config from args (without the program name). lookup
// reads environment variables; pass os.LookupEnv.
func Parse(name string, args []string, lookup func(string) (string, bool)) (*Config, error) {
	flagSet := Flags(name)
	flagSet.SetOutput(io.Discard)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, usage("%v", err)
	}

	cfg := Default()

	configPath, _ := flagSet.GetString("config")
	if configPath == "" {
		configPath, _ = lookup(EnvironmentVariable)
	}
	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyFlags(flagSet); err != nil {
		return nil, err
	}
	cfg.expandVariables(lookup)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges the file at path into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return usage("reading configuration: %v", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return usage("%s: %v", path, err)
	}
	return nil
}

// applyFlags copies every flag given on the command line over the
// file's values. Positional arguments after "--" are the wrapped
// command.
func (c *Config) applyFlags(flagSet *pflag.FlagSet) error {
	var err error
	if flagSet.Changed("socket") {
		c.SocketPath, err = flagSet.GetString("socket")
	}
	if err == nil && flagSet.Changed("socket-directory") {
		c.SocketDirectory, err = flagSet.GetString("socket-directory")
	}
	if err == nil && flagSet.Changed("info-fd") {
		c.InfoFd, err = flagSet.GetInt("info-fd")
	}
	if err == nil && flagSet.Changed("exit-on-readable") {
		c.ExitOnReadableFd, err = flagSet.GetInt("exit-on-readable")
	}
	if err == nil && flagSet.Changed("no-stop-on-exit") {
		var noStop bool
		noStop, err = flagSet.GetBool("no-stop-on-exit")
		c.StopOnExit = !noStop
	}
	if err == nil && flagSet.Changed("no-stop-on-name-loss") {
		var keep bool
		keep, err = flagSet.GetBool("no-stop-on-name-loss")
		c.StopOnNameLoss = !keep
	}
	if err == nil && flagSet.Changed("replace-on-failure") {
		c.ReplaceOnFailure, err = flagSet.GetBool("replace-on-failure")
	}
	if err == nil && flagSet.Changed("verbose") {
		c.Verbose, err = flagSet.GetBool("verbose")
	}
	if err == nil {
		c.ShowVersion, err = flagSet.GetBool("version")
	}
	if err != nil {
		return usage("%v", err)
	}

	if args := flagSet.Args(); len(args) > 0 {
		c.Command = append([]string(nil), args...)
	}
	return nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVariables expands ${VAR} and ${VAR:-default} in socket paths.
func (c *Config) expandVariables(lookup func(string) (string, bool)) {
	expand := func(s string) string {
		return varPattern.ReplaceAllStringFunc(s, func(match string) string {
			parts := varPattern.FindStringSubmatch(match)
			if value, ok := lookup(parts[1]); ok && value != "" {
				return value
			}
			return parts[2]
		})
	}
	c.SocketPath = expand(c.SocketPath)
	c.SocketDirectory = expand(c.SocketDirectory)
}

// Validate checks c for contradictions. Version requests skip the
// checks so --version works without a socket.
func (c *Config) Validate() error {
	if c.ShowVersion {
		return nil
	}

	var errs []error
	switch {
	case c.SocketPath == "" && c.SocketDirectory == "":
		errs = append(errs, usage("one of --socket or --socket-directory is required"))
	case c.SocketPath != "" && c.SocketDirectory != "":
		errs = append(errs, usage("--socket and --socket-directory are mutually exclusive"))
	}
	if c.SocketPath != "" && strings.HasPrefix(c.SocketPath, "@") {
		errs = append(errs, usage("abstract sockets are not supported: %s", c.SocketPath))
	}
	if c.InfoFd >= 0 && c.InfoFd <= 2 {
		errs = append(errs, usage("--info-fd must not be a standard stream (got %d)", c.InfoFd))
	}
	if c.InfoFd >= 0 && c.InfoFd == c.ExitOnReadableFd {
		errs = append(errs, usage("--info-fd and --exit-on-readable must differ (both %d)", c.InfoFd))
	}
	if c.ReplaceOnFailure && len(c.Command) == 0 {
		errs = append(errs, usage("--replace-on-failure requires a command"))
	}

	if len(errs) > 0 {
		return &UsageError{Message: errors.Join(errs...).Error()}
	}
	return nil
}
