// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"sync/atomic"
	"time"

	"github.com/hslam/buffer"
	"golang.org/x/sys/unix"
)

const defaultHighWaterMark = 64 * 1024 * 1024

const (
	stateConnecting int32 = iota
	stateConnected
	stateDisconnecting
	stateDisconnected
)

// TcpConnection is one established duplex byte stream. It is created in
// the Connecting state with an already-connected descriptor, lives on one
// EventLoop, and buffers writes the kernel will not take immediately.
// Public mutators are safe from any goroutine; they marshal onto the loop.
type TcpConnection struct {
	loop      *EventLoop
	name      string
	state     atomic.Int32
	socket    *Socket
	channel   *Channel
	localAddr InetAddress
	peerAddr  InetAddress
	reading   bool
	destroyed bool

	inputBuffer   *Buffer
	outputBuffer  *Buffer
	highWaterMark int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback
}

// NewTcpConnection wraps an established descriptor. The caller transfers
// ownership of fd.
func NewTcpConnection(loop *EventLoop, name string, fd int, localAddr, peerAddr InetAddress) *TcpConnection {
	if loop == nil {
		panic("reactor: TcpConnection with nil loop")
	}
	c := &TcpConnection{
		loop:          loop,
		name:          name,
		socket:        newSocket(fd),
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		reading:       true,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: defaultHighWaterMark,
	}
	logTrace().Str("name", name).Msg("TcpConnection: created")
	c.channel = NewChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.SetCloseCallback(c.handleClose)
	c.socket.setKeepAlive(true)
	return c
}

// Name returns the connection's name.
func (c *TcpConnection) Name() string { return c.name }

// LocalAddr returns the local endpoint.
func (c *TcpConnection) LocalAddr() InetAddress { return c.localAddr }

// PeerAddr returns the remote endpoint.
func (c *TcpConnection) PeerAddr() InetAddress { return c.peerAddr }

// GetLoop returns the loop this connection lives on.
func (c *TcpConnection) GetLoop() *EventLoop { return c.loop }

// Connected reports whether the connection is established.
func (c *TcpConnection) Connected() bool { return c.state.Load() == stateConnected }

// Disconnected reports whether the connection is fully down.
func (c *TcpConnection) Disconnected() bool { return c.state.Load() == stateDisconnected }

// SetConnectionCallback sets the establish/disconnect notification.
func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }

// SetMessageCallback sets the inbound-data notification.
func (c *TcpConnection) SetMessageCallback(cb MessageCallback) { c.messageCallback = cb }

// SetWriteCompleteCallback sets the output-drained notification.
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}

// SetHighWaterMarkCallback sets the back-pressure notification and its
// threshold in bytes.
func (c *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, threshold int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = threshold
}

// SetCloseCallback sets the internal disconnect hook.
func (c *TcpConnection) SetCloseCallback(cb CloseCallback) { c.closeCallback = cb }

// SetTcpNoDelay toggles Nagle's algorithm.
func (c *TcpConnection) SetTcpNoDelay(on bool) {
	c.socket.setTcpNoDelay(on)
}

// SendString sends text.
func (c *TcpConnection) SendString(s string) {
	if c.state.Load() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop([]byte(s))
	} else {
		c.queueSend([]byte(s))
	}
}

// Send sends raw bytes. Off the loop goroutine the payload is copied into
// a pooled slice before queuing, so the caller may reuse p immediately.
func (c *TcpConnection) Send(p []byte) {
	if len(p) == 0 || c.state.Load() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(p)
		return
	}
	pool := buffer.AssignPool(len(p))
	msg := pool.GetBuffer(len(p))[:len(p)]
	copy(msg, p)
	c.loop.RunInLoop(func() {
		c.sendInLoop(msg)
		pool.PutBuffer(msg)
	})
}

// SendBuffer drains buf into the connection.
func (c *TcpConnection) SendBuffer(buf *Buffer) {
	if c.state.Load() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(buf.Peek())
		buf.Reset()
	} else {
		c.queueSend([]byte(buf.RetrieveAsString()))
	}
}

func (c *TcpConnection) queueSend(msg []byte) {
	c.loop.RunInLoop(func() {
		c.sendInLoop(msg)
	})
}

// sendInLoop tries a direct write when nothing is queued, then buffers the
// remainder and subscribes for writability. Crossing the high-water mark
// queues exactly one notification because the old size is checked against
// the threshold first.
func (c *TcpConnection) sendInLoop(data []byte) {
	c.loop.AssertInLoopThread()
	if c.state.Load() == stateDisconnected {
		logWarn().Str("name", c.name).Msg("TcpConnection: disconnected, give up writing")
		return
	}
	nwrote := 0
	remaining := len(data)
	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := writeFd(c.channel.Fd(), data)
		if err == nil && n >= 0 {
			nwrote = n
			remaining = len(data) - n
			if remaining == 0 && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() {
					c.writeCompleteCallback(c)
				})
			}
		} else {
			nwrote = 0
			if err != unix.EAGAIN {
				logError().Err(err).Str("name", c.name).Msg("TcpConnection: sendInLoop")
			}
		}
	}

	if remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen < c.highWaterMark && oldLen+remaining >= c.highWaterMark && c.highWaterMarkCallback != nil {
			size := oldLen + remaining
			c.loop.QueueInLoop(func() {
				c.highWaterMarkCallback(c, size)
			})
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWrite()
		}
	}
}

// Shutdown closes the write side once the output buffer drains.
func (c *TcpConnection) Shutdown() {
	if c.state.CompareAndSwap(stateConnected, stateDisconnecting) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *TcpConnection) shutdownInLoop() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		c.socket.shutdownWrite()
	}
	// Otherwise handleWrite finishes the shutdown after the drain.
}

// ForceClose drops the connection without waiting for pending output.
func (c *TcpConnection) ForceClose() {
	s := c.state.Load()
	if s == stateConnected || s == stateDisconnecting {
		c.state.Store(stateDisconnecting)
		c.loop.QueueInLoop(c.forceCloseInLoop)
	}
}

// ForceCloseWithDelay drops the connection after d unless it is already
// down by then.
func (c *TcpConnection) ForceCloseWithDelay(d time.Duration) {
	s := c.state.Load()
	if s == stateConnected || s == stateDisconnecting {
		c.state.Store(stateDisconnecting)
		c.loop.RunAfter(d, func() {
			c.ForceClose()
		})
	}
}

func (c *TcpConnection) forceCloseInLoop() {
	c.loop.AssertInLoopThread()
	s := c.state.Load()
	if s == stateConnected || s == stateDisconnecting {
		c.handleClose()
	}
}

// StartRead resubscribes read events after StopRead.
func (c *TcpConnection) StartRead() {
	c.loop.RunInLoop(func() {
		if !c.reading || !c.channel.IsReading() {
			c.channel.EnableRead()
			c.reading = true
		}
	})
}

// StopRead pauses read events without touching the socket.
func (c *TcpConnection) StopRead() {
	c.loop.RunInLoop(func() {
		if c.reading || c.channel.IsReading() {
			c.channel.DisableRead()
			c.reading = false
		}
	})
}

// ConnectEstablished completes construction on the loop goroutine: the
// Channel is tethered to the connection and read events begin.
func (c *TcpConnection) ConnectEstablished() {
	c.loop.AssertInLoopThread()
	if c.state.Load() != stateConnecting {
		panic("reactor: ConnectEstablished on non-connecting connection")
	}
	c.state.Store(stateConnected)
	c.channel.Tie(c)
	c.channel.EnableRead()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// ConnectDestroyed is the idempotent final teardown. It covers both the
// normal close path and owner shutdown, which can race into queuing it
// twice.
func (c *TcpConnection) ConnectDestroyed() {
	c.loop.AssertInLoopThread()
	if c.destroyed {
		return
	}
	c.destroyed = true
	if c.state.Load() == stateConnected {
		c.state.Store(stateDisconnected)
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.channel.Untie()
	c.channel.Remove()
	c.socket.Close()
}

func (c *TcpConnection) handleRead() {
	c.loop.AssertInLoopThread()
	n, err := c.inputBuffer.ReadFd(c.channel.Fd())
	if n > 0 {
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer)
		}
	} else if n == 0 {
		c.handleClose()
	} else {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		logError().Err(err).Str("name", c.name).Msg("TcpConnection: handleRead")
		c.handleError()
	}
}

func (c *TcpConnection) handleWrite() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		logTrace().Str("name", c.name).Msg("TcpConnection: down, no more writing")
		return
	}
	n, err := writeFd(c.channel.Fd(), c.outputBuffer.Peek())
	if err == nil && n > 0 {
		c.outputBuffer.Retrieve(n)
		if c.outputBuffer.ReadableBytes() == 0 {
			c.channel.DisableWrite()
			if c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() {
					c.writeCompleteCallback(c)
				})
			}
			if c.state.Load() == stateDisconnecting {
				c.shutdownInLoop()
			}
		}
	} else if err != unix.EAGAIN {
		logError().Err(err).Str("name", c.name).Msg("TcpConnection: handleWrite")
	}
}

func (c *TcpConnection) handleError() {
	errno := getSocketError(c.channel.Fd())
	logError().Int("so_error", errno).Str("name", c.name).Msg("TcpConnection: handleError")
}

// handleClose runs the user disconnect notification and then the internal
// close callback. The internal one goes last: it drops the owner's strong
// reference and may be the connection's final use.
func (c *TcpConnection) handleClose() {
	c.loop.AssertInLoopThread()
	s := c.state.Load()
	if s != stateConnected && s != stateDisconnecting {
		panic("reactor: handleClose in unexpected state")
	}
	logTrace().Str("name", c.name).Msg("TcpConnection: handleClose")
	c.state.Store(stateDisconnected)
	c.channel.DisableAll()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}
