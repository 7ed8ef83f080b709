// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd
// +build darwin dragonfly freebsd netbsd openbsd

package reactor

import (
	"golang.org/x/sys/unix"
)

// createWakeup returns the read and write ends of the loop wakeup
// primitive. Without an event counter descriptor a connected socket pair
// serves the same role.
func createWakeup() (int, int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		if err = setNonBlockAndCloseOnExec(fd); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}

func closeWakeup(readFd, writeFd int) {
	unix.Close(readFd)
	unix.Close(writeFd)
}
