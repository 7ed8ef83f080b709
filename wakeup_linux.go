// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// createWakeup returns the read and write ends of the loop wakeup
// primitive. On Linux one eventfd serves as both.
func createWakeup() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

func closeWakeup(readFd, writeFd int) {
	unix.Close(readFd)
}
