// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd || linux
// +build darwin dragonfly freebsd netbsd openbsd linux

package reactor

import (
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

var ignoreSigPipe sync.Once

// createNonblockingTcpSocket creates an IPv4 stream socket in non-blocking
// close-on-exec mode. SIGPIPE is ignored process-wide the first time any
// socket is created, so a write to a reset connection surfaces EPIPE
// instead of killing the process.
func createNonblockingTcpSocket() (int, error) {
	ignoreSigPipe.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
	})
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err = setNonBlockAndCloseOnExec(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func setNonBlockAndCloseOnExec(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	unix.CloseOnExec(fd)
	return nil
}

func bindAddress(fd int, addr InetAddress) error {
	return unix.Bind(fd, addr.sockaddr())
}

func listenSocket(fd int) error {
	return unix.Listen(fd, unix.SOMAXCONN)
}

// acceptSocket accepts one pending connection and puts the new descriptor
// in non-blocking close-on-exec mode before returning it.
func acceptSocket(fd int) (int, InetAddress, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, InetAddress{}, err
	}
	if err = setNonBlockAndCloseOnExec(nfd); err != nil {
		unix.Close(nfd)
		return -1, InetAddress{}, err
	}
	return nfd, inetAddressFromSockaddr(sa), nil
}

func connectAddress(fd int, addr InetAddress) error {
	return unix.Connect(fd, addr.sockaddr())
}

func readFd(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func writeFd(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

func closeFd(fd int) error {
	return unix.Close(fd)
}

func shutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

func setReuseAddr(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

func setReusePort(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

func setTcpNoDelay(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

func setKeepAlive(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

func boolToInt(on bool) int {
	if on {
		return 1
	}
	return 0
}

// getSocketError drains SO_ERROR, the pending asynchronous error slot a
// non-blocking connect reports its outcome through.
func getSocketError(fd int) int {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return int(errno)
		}
		return int(unix.EINVAL)
	}
	return v
}

func getLocalAddr(fd int) InetAddress {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		logError().Err(err).Int("fd", fd).Msg("sockets: getsockname")
		return InetAddress{}
	}
	return inetAddressFromSockaddr(sa)
}

func getPeerAddr(fd int) InetAddress {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		logError().Err(err).Int("fd", fd).Msg("sockets: getpeername")
		return InetAddress{}
	}
	return inetAddressFromSockaddr(sa)
}

// isSelfConnect reports whether a TCP socket was paired with itself, which
// the kernel can do when a loopback connect lands on the socket's own
// ephemeral source port. A variable so tests can inject the collision.
var isSelfConnect = func(fd int) bool {
	local := getLocalAddr(fd)
	peer := getPeerAddr(fd)
	return local.port == peer.port && local.ip == peer.ip
}

// getReadableBytes returns the number of bytes queued in the socket's
// receive buffer.
func getReadableBytes(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.SIOCINQ)
}
