// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

const (
	initRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 30 * time.Second
)

const (
	connectorDisconnected = iota
	connectorConnecting
	connectorConnected
)

// Connector issues a non-blocking connect with exponential backoff and
// hands the established descriptor to its callback. All state lives on
// the loop goroutine; Start and Stop only flip the intent flag and
// marshal.
type Connector struct {
	loop                  *EventLoop
	serverAddr            InetAddress
	connect               atomic.Bool
	state                 int
	channel               *Channel
	newConnectionCallback func(fd int)
	retryDelay            time.Duration
	retryTimer            TimerId
	hasRetryTimer         bool
}

// NewConnector returns a Connector for serverAddr driving loop.
func NewConnector(loop *EventLoop, serverAddr InetAddress) *Connector {
	return &Connector{
		loop:       loop,
		serverAddr: serverAddr,
		state:      connectorDisconnected,
		retryDelay: initRetryDelay,
	}
}

// SetNewConnectionCallback installs the callback receiving the connected
// descriptor.
func (c *Connector) SetNewConnectionCallback(cb func(fd int)) {
	c.newConnectionCallback = cb
}

// ServerAddress returns the address being connected to.
func (c *Connector) ServerAddress() InetAddress { return c.serverAddr }

// Start begins connecting. Safe from any goroutine.
func (c *Connector) Start() {
	c.connect.Store(true)
	c.loop.RunInLoop(c.startInLoop)
}

func (c *Connector) startInLoop() {
	c.loop.AssertInLoopThread()
	if c.state != connectorDisconnected {
		panic("reactor: Connector started while not disconnected")
	}
	if c.connect.Load() {
		c.connectSocket()
	} else {
		logTrace().Msg("Connector: do not connect")
	}
}

// Restart resets the backoff and reconnects. Must run on the loop
// goroutine.
func (c *Connector) Restart() {
	c.loop.AssertInLoopThread()
	c.state = connectorDisconnected
	c.retryDelay = initRetryDelay
	c.connect.Store(true)
	c.startInLoop()
}

// Stop aborts a pending connect and cancels any scheduled retry. Safe
// from any goroutine.
func (c *Connector) Stop() {
	c.connect.Store(false)
	c.loop.QueueInLoop(c.stopInLoop)
}

func (c *Connector) stopInLoop() {
	c.loop.AssertInLoopThread()
	c.cancelRetryTimer()
	if c.state == connectorConnecting {
		c.state = connectorDisconnected
		fd := c.removeAndResetChannel()
		c.retry(fd)
	}
}

func (c *Connector) cancelRetryTimer() {
	if c.hasRetryTimer {
		c.loop.Cancel(c.retryTimer)
		c.hasRetryTimer = false
	}
}

func (c *Connector) connectSocket() {
	fd, err := createNonblockingTcpSocket()
	if err != nil {
		logFatal(err, "Connector: create socket")
	}
	err = connectAddress(fd, c.serverAddr)
	switch err {
	case nil, unix.EINPROGRESS, unix.EINTR, unix.EISCONN:
		c.connecting(fd)
	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH:
		c.retry(fd)
	case unix.EACCES, unix.EPERM, unix.EAFNOSUPPORT, unix.EALREADY, unix.EBADF, unix.EFAULT, unix.ENOTSOCK:
		logError().Err(err).Str("addr", c.serverAddr.String()).Msg("Connector: connect error")
		closeFd(fd)
	default:
		logError().Err(err).Str("addr", c.serverAddr.String()).Msg("Connector: unexpected connect error")
		closeFd(fd)
	}
}

func (c *Connector) connecting(fd int) {
	c.state = connectorConnecting
	if c.channel != nil {
		panic("reactor: Connector channel already exists")
	}
	c.channel = NewChannel(c.loop, fd)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.EnableWrite()
}

// removeAndResetChannel detaches the Channel from the Poller and returns
// the raw descriptor. Dropping the Channel object is deferred because this
// runs inside its own event handler.
func (c *Connector) removeAndResetChannel() int {
	c.channel.DisableAll()
	c.channel.Remove()
	fd := c.channel.Fd()
	c.loop.QueueInLoop(func() {
		c.channel = nil
	})
	return fd
}

func (c *Connector) handleWrite() {
	logTrace().Int("state", c.state).Msg("Connector: handleWrite")
	if c.state != connectorConnecting {
		if c.state != connectorDisconnected {
			panic("reactor: Connector write in unexpected state")
		}
		return
	}
	fd := c.removeAndResetChannel()
	if errno := getSocketError(fd); errno != 0 {
		logWarn().Int("so_error", errno).Msg("Connector: SO_ERROR after connect")
		c.retry(fd)
	} else if isSelfConnect(fd) {
		logWarn().Msg("Connector: self connect")
		c.retry(fd)
	} else {
		c.state = connectorConnected
		if c.connect.Load() {
			c.newConnectionCallback(fd)
		} else {
			closeFd(fd)
		}
	}
}

func (c *Connector) handleError() {
	logError().Msg("Connector: handleError")
	if c.state == connectorConnecting {
		fd := c.removeAndResetChannel()
		logTrace().Int("so_error", getSocketError(fd)).Msg("Connector: SO_ERROR")
		c.retry(fd)
	}
}

// retry closes the failed socket and schedules another attempt with the
// doubled delay. The scheduled callback re-checks intent and state before
// reconnecting so a Stop or Restart issued meanwhile wins.
func (c *Connector) retry(fd int) {
	closeFd(fd)
	c.state = connectorDisconnected
	if !c.connect.Load() {
		logTrace().Msg("Connector: do not connect")
		return
	}
	logInfo().Str("addr", c.serverAddr.String()).Dur("delay", c.retryDelay).Msg("Connector: retry connecting")
	c.retryTimer = c.loop.RunAfter(c.retryDelay, func() {
		c.hasRetryTimer = false
		if c.connect.Load() && c.state == connectorDisconnected {
			c.startInLoop()
		}
	})
	c.hasRetryTimer = true
	c.retryDelay *= 2
	if c.retryDelay > maxRetryDelay {
		c.retryDelay = maxRetryDelay
	}
}
