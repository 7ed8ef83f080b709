// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"golang.org/x/sys/unix"
)

// Socket owns one descriptor and closes it on Close. Option setters log
// failures instead of returning them; none of these can fail on a live
// TCP socket except through a programming error upstream.
type Socket struct {
	fd int
}

func newSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// Fd returns the owned descriptor.
func (s *Socket) Fd() int { return s.fd }

func (s *Socket) bindAddress(addr InetAddress) {
	if err := bindAddress(s.fd, addr); err != nil {
		logFatal(err, "Socket: bind "+addr.String())
	}
}

func (s *Socket) listen() {
	if err := listenSocket(s.fd); err != nil {
		logFatal(err, "Socket: listen")
	}
}

// accept returns the new descriptor and peer address, or the raw errno
// for the caller to classify.
func (s *Socket) accept() (int, InetAddress, error) {
	return acceptSocket(s.fd)
}

func (s *Socket) shutdownWrite() {
	if err := shutdownWrite(s.fd); err != nil {
		logError().Err(err).Int("fd", s.fd).Msg("Socket: shutdown write")
	}
}

func (s *Socket) setReuseAddr(on bool) {
	if err := setReuseAddr(s.fd, on); err != nil {
		logError().Err(err).Msg("Socket: SO_REUSEADDR")
	}
}

func (s *Socket) setReusePort(on bool) {
	if err := setReusePort(s.fd, on); err != nil {
		logError().Err(err).Msg("Socket: SO_REUSEPORT")
	}
}

func (s *Socket) setTcpNoDelay(on bool) {
	if err := setTcpNoDelay(s.fd, on); err != nil {
		logError().Err(err).Msg("Socket: TCP_NODELAY")
	}
}

func (s *Socket) setKeepAlive(on bool) {
	if err := setKeepAlive(s.fd, on); err != nil {
		logError().Err(err).Msg("Socket: SO_KEEPALIVE")
	}
}

// Close releases the descriptor.
func (s *Socket) Close() {
	if err := closeFd(s.fd); err != nil && err != unix.EINTR {
		logError().Err(err).Int("fd", s.fd).Msg("Socket: close")
	}
}
