// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// watchReadable stops the server once fd is readable, hung up or
// invalid. The descriptor itself is never read.
func (s *Server) watchReadable(fd int) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			s.logger.Error("polling exit-on-readable fd", "fd", fd, "error", err)
			return
		}
		if fds[0].Revents != 0 {
			break
		}
	}

	s.post(func() {
		s.logger.Info("exit-on-readable fd is ready", "fd", fd)
		s.stop(syscall.SIGTERM)
	})
}
