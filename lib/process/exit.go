// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that carry their own exit status,
// such as config.UsageError.
type ExitCoder interface {
	ExitCode() int
}

// ExitStatus returns the status a binary should exit with for err: 0
// for nil, the error's own code when it has one, 1 otherwise.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

// Report writes "name: error: err" to w unless err is nil.
func Report(w io.Writer, name string, err error) {
	if err != nil {
		fmt.Fprintf(w, "%s: error: %v\n", name, err)
	}
}

// Fatal reports err on stderr and exits with ExitStatus(err).
func Fatal(name string, err error) {
	Report(os.Stderr, name, err)
	os.Exit(ExitStatus(err))
}
