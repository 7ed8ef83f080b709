// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"golang.org/x/sys/unix"
)

// NewConnectionCallback receives an accepted descriptor and its peer
// address.
type NewConnectionCallback func(fd int, peer InetAddress)

// Acceptor owns the listening socket and turns read readiness into
// new-connection callbacks on its loop.
type Acceptor struct {
	loop                  *EventLoop
	acceptSocket          *Socket
	acceptChannel         *Channel
	newConnectionCallback NewConnectionCallback
	listening             bool
}

// NewAcceptor binds a listening socket to listenAddr. SO_REUSEADDR stays
// off; SO_REUSEPORT follows reuseport.
func NewAcceptor(loop *EventLoop, listenAddr InetAddress, reuseport bool) *Acceptor {
	fd, err := createNonblockingTcpSocket()
	if err != nil {
		logFatal(err, "Acceptor: create socket")
	}
	a := &Acceptor{
		loop:         loop,
		acceptSocket: newSocket(fd),
	}
	a.acceptSocket.setReuseAddr(false)
	a.acceptSocket.setReusePort(reuseport)
	a.acceptSocket.bindAddress(listenAddr)
	a.acceptChannel = NewChannel(loop, fd)
	a.acceptChannel.SetReadCallback(a.handleRead)
	return a
}

// SetNewConnectionCallback installs the callback for accepted sockets.
// Without one, accepted descriptors are closed immediately.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

// Listening reports whether Listen has run.
func (a *Acceptor) Listening() bool { return a.listening }

// Listen starts listening and subscribes for read readiness.
func (a *Acceptor) Listen() {
	a.loop.AssertInLoopThread()
	a.listening = true
	a.acceptSocket.listen()
	a.acceptChannel.EnableRead()
}

func (a *Acceptor) handleRead() {
	a.loop.AssertInLoopThread()
	connfd, peer, err := a.acceptSocket.accept()
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR, unix.ECONNABORTED, unix.EPROTO, unix.EPERM:
			logWarn().Err(err).Msg("Acceptor: transient accept failure")
		case unix.EMFILE, unix.ENFILE:
			// Descriptor exhaustion. Nothing to free here; log and keep
			// serving the descriptors we still have.
			logError().Err(err).Msg("Acceptor: out of file descriptors")
		case unix.EBADF, unix.EFAULT, unix.EINVAL, unix.ENOBUFS, unix.ENOMEM, unix.ENOTSOCK, unix.EOPNOTSUPP:
			logFatal(err, "Acceptor: unexpected accept error")
		default:
			logError().Err(err).Msg("Acceptor: accept")
		}
		return
	}
	if a.newConnectionCallback != nil {
		a.newConnectionCallback(connfd, peer)
	} else {
		closeFd(connfd)
	}
}

// Close tears down the Channel and releases the listening socket.
func (a *Acceptor) Close() {
	a.loop.AssertInLoopThread()
	a.acceptChannel.DisableAll()
	a.acceptChannel.Remove()
	a.acceptSocket.Close()
}
