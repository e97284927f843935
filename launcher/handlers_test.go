// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/bureau-foundation/spawnd/lib/ipc"
	"github.com/bureau-foundation/spawnd/lib/spawn"
)

func TestSpawnError(t *testing.T) {
	tests := []struct {
		err  error
		want ipc.ErrorName
	}{
		{&spawn.ChildError{Stage: spawn.StageExec, Errno: syscall.ENOENT}, ipc.ErrFileNotFound},
		{&spawn.ChildError{Stage: spawn.StageExec, Errno: syscall.EACCES}, ipc.ErrAccessDenied},
		{&spawn.ChildError{Stage: spawn.StageExec, Errno: syscall.ENOEXEC}, ipc.ErrFailed},
		{&spawn.ChildError{Stage: spawn.StageChdir, Errno: syscall.ENOENT}, ipc.ErrFailed},
		{&spawn.ChildError{Stage: spawn.StageRemap, Errno: syscall.EBADF}, ipc.ErrFailed},
		{fmt.Errorf("creating report pipe: %w", syscall.EMFILE), ipc.ErrFailed},
		{spawn.ErrNoArgv, ipc.ErrInvalidArgs},
	}
	for _, test := range tests {
		err := spawnError(test.err)
		if name := ipc.NameOf(err); name != test.want {
			t.Errorf("spawnError(%v) = %v, want %s", test.err, err, test.want)
		}
		var ipcErr *ipc.Error
		if errors.As(err, &ipcErr) && ipcErr.Message != test.err.Error() {
			t.Errorf("spawnError(%v) message = %q", test.err, ipcErr.Message)
		}
	}
}
