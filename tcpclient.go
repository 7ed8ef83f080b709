// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"strconv"
	"sync"
	"time"
)

// TcpClient drives a Connector and owns at most one live connection,
// guarded by a mutex so other goroutines can observe it safely.
type TcpClient struct {
	loop       *EventLoop
	connector  *Connector
	name       string
	mu         sync.Mutex
	connection *TcpConnection
	nextConnId int
	retry      bool
	connect    bool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	highWaterMark         int
}

// NewTcpClient returns a client for serverAddr driving loop.
func NewTcpClient(loop *EventLoop, serverAddr InetAddress, name string) *TcpClient {
	if loop == nil {
		panic("reactor: TcpClient with nil loop")
	}
	c := &TcpClient{
		loop:       loop,
		connector:  NewConnector(loop, serverAddr),
		name:       name,
		nextConnId: 1,
	}
	c.connector.SetNewConnectionCallback(c.handleConnection)
	return c
}

// SetConnectionCallback sets the establish/disconnect notification.
func (c *TcpClient) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }

// SetMessageCallback sets the inbound-data notification.
func (c *TcpClient) SetMessageCallback(cb MessageCallback) { c.messageCallback = cb }

// SetWriteCompleteCallback sets the output-drained notification.
func (c *TcpClient) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}

// SetHighWaterMarkCallback sets the back-pressure notification installed
// on the next connection.
func (c *TcpClient) SetHighWaterMarkCallback(cb HighWaterMarkCallback, threshold int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = threshold
}

// EnableRetry reconnects automatically after a lost connection.
func (c *TcpClient) EnableRetry() {
	c.retry = true
}

// Connection returns the live connection, or nil.
func (c *TcpClient) Connection() *TcpConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

// Connect starts connecting with backoff.
func (c *TcpClient) Connect() {
	c.connect = true
	c.connector.Start()
}

// Disconnect shuts down the live connection cleanly.
func (c *TcpClient) Disconnect() {
	c.connect = false
	c.mu.Lock()
	conn := c.connection
	c.mu.Unlock()
	if conn != nil {
		conn.Shutdown()
	}
}

// Stop aborts a pending connect.
func (c *TcpClient) Stop() {
	c.connect = false
	c.connector.Stop()
}

// Close releases the client. With a live connection the close callback is
// swapped for one that only queues the final teardown; otherwise the
// connector is stopped and kept alive briefly so a retry timer in flight
// cannot fire against a released object.
func (c *TcpClient) Close() {
	c.mu.Lock()
	conn := c.connection
	c.mu.Unlock()
	if conn != nil {
		loop := c.loop
		c.loop.RunInLoop(func() {
			conn.SetCloseCallback(func(conn *TcpConnection) {
				loop.QueueInLoop(conn.ConnectDestroyed)
			})
		})
		return
	}
	c.connector.Stop()
	connector := c.connector
	c.loop.RunAfter(time.Second, func() {
		_ = connector
	})
}

func (c *TcpClient) handleConnection(fd int) {
	c.loop.AssertInLoopThread()
	peerAddr := getPeerAddr(fd)
	connName := c.name + ":" + peerAddr.String() + "#" + strconv.Itoa(c.nextConnId)
	c.nextConnId++
	localAddr := getLocalAddr(fd)

	conn := NewTcpConnection(c.loop, connName, fd, localAddr, peerAddr)
	if c.connectionCallback != nil {
		conn.SetConnectionCallback(c.connectionCallback)
	} else {
		conn.SetConnectionCallback(defaultConnectionCallback)
	}
	if c.messageCallback != nil {
		conn.SetMessageCallback(c.messageCallback)
	} else {
		conn.SetMessageCallback(defaultMessageCallback)
	}
	if c.writeCompleteCallback != nil {
		conn.SetWriteCompleteCallback(c.writeCompleteCallback)
	}
	if c.highWaterMarkCallback != nil {
		conn.SetHighWaterMarkCallback(c.highWaterMarkCallback, c.highWaterMark)
	}
	conn.SetCloseCallback(c.handleDisConnection)
	c.mu.Lock()
	c.connection = conn
	c.mu.Unlock()
	conn.ConnectEstablished()
}

func (c *TcpClient) handleDisConnection(conn *TcpConnection) {
	c.loop.AssertInLoopThread()
	if conn.GetLoop() != c.loop {
		panic("reactor: TcpClient connection on wrong loop")
	}
	c.mu.Lock()
	if c.connection != conn {
		c.mu.Unlock()
		panic("reactor: TcpClient disconnect for unknown connection")
	}
	c.connection = nil
	c.mu.Unlock()

	c.loop.QueueInLoop(conn.ConnectDestroyed)
	if c.retry && c.connect {
		logInfo().Str("name", c.name).Str("addr", c.connector.ServerAddress().String()).Msg("TcpClient: reconnecting")
		c.connector.Restart()
	}
}
