// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"strconv"
	"sync/atomic"
)

// TcpServer accepts connections on one loop and spreads them over a small
// pool of worker loops round-robin. It keeps the strong reference to every
// live connection in a name-keyed map on its own loop.
type TcpServer struct {
	loop        *EventLoop
	name        string
	acceptor    *Acceptor
	threadPool  *EventLoopThreadPool
	connections map[string]*TcpConnection
	nextConnId  int
	started     int32

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
}

// NewTcpServer returns a server listening on listenAddr once Start runs.
func NewTcpServer(loop *EventLoop, listenAddr InetAddress, name string, reuseport bool) *TcpServer {
	if loop == nil {
		panic("reactor: TcpServer with nil loop")
	}
	s := &TcpServer{
		loop:        loop,
		name:        name,
		acceptor:    NewAcceptor(loop, listenAddr, reuseport),
		threadPool:  NewEventLoopThreadPool(loop),
		connections: make(map[string]*TcpConnection),
		nextConnId:  1,
	}
	s.acceptor.SetNewConnectionCallback(s.handleConnection)
	return s
}

// SetThreadNum sets how many worker loops serve connections. Zero keeps
// everything on the accept loop.
func (s *TcpServer) SetThreadNum(n int) {
	s.threadPool.SetThreadNum(n)
}

// SetConnectionCallback sets the establish/disconnect notification
// installed on every accepted connection.
func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }

// SetMessageCallback sets the inbound-data notification installed on
// every accepted connection.
func (s *TcpServer) SetMessageCallback(cb MessageCallback) { s.messageCallback = cb }

// SetWriteCompleteCallback sets the output-drained notification installed
// on every accepted connection.
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	s.writeCompleteCallback = cb
}

// Start launches the worker pool and begins listening. Idempotent.
func (s *TcpServer) Start() {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return
	}
	s.loop.RunInLoop(func() {
		s.threadPool.Start()
		if s.acceptor.Listening() {
			panic("reactor: TcpServer started with listening acceptor")
		}
		s.acceptor.Listen()
	})
}

// NumConnections returns the number of live connections. Must run on the
// server's loop.
func (s *TcpServer) NumConnections() int {
	s.loop.AssertInLoopThread()
	return len(s.connections)
}

func (s *TcpServer) handleConnection(fd int, peerAddr InetAddress) {
	s.loop.AssertInLoopThread()
	connName := s.name + "#" + strconv.Itoa(s.nextConnId)
	s.nextConnId++

	logInfo().Str("name", connName).Str("peer", peerAddr.String()).Msg("TcpServer: new connection")
	localAddr := getLocalAddr(fd)
	loop := s.threadPool.GetNextLoop()
	conn := NewTcpConnection(loop, connName, fd, localAddr, peerAddr)
	s.connections[connName] = conn

	conn.SetConnectionCallback(s.pickConnectionCallback())
	conn.SetMessageCallback(s.pickMessageCallback())
	if s.writeCompleteCallback != nil {
		conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	}
	conn.SetCloseCallback(s.handleDisConnection)
	loop.RunInLoop(conn.ConnectEstablished)
}

func (s *TcpServer) pickConnectionCallback() ConnectionCallback {
	if s.connectionCallback != nil {
		return s.connectionCallback
	}
	return defaultConnectionCallback
}

func (s *TcpServer) pickMessageCallback() MessageCallback {
	if s.messageCallback != nil {
		return s.messageCallback
	}
	return defaultMessageCallback
}

// handleDisConnection runs on the connection's loop; the map belongs to
// the server's loop, so the erase marshals over.
func (s *TcpServer) handleDisConnection(conn *TcpConnection) {
	s.loop.RunInLoop(func() {
		s.handleDisConnectionInLoop(conn)
	})
}

func (s *TcpServer) handleDisConnectionInLoop(conn *TcpConnection) {
	s.loop.AssertInLoopThread()
	logInfo().Str("name", conn.Name()).Msg("TcpServer: remove connection")
	if _, ok := s.connections[conn.Name()]; !ok {
		// Already released by Close; its teardown is queued there.
		return
	}
	delete(s.connections, conn.Name())
	conn.GetLoop().QueueInLoop(conn.ConnectDestroyed)
}

// Close tears down every remaining connection and the acceptor. Must run
// on the server's loop.
func (s *TcpServer) Close() {
	s.loop.AssertInLoopThread()
	for name, conn := range s.connections {
		delete(s.connections, name)
		c := conn
		c.GetLoop().RunInLoop(c.ConnectDestroyed)
	}
	s.acceptor.Close()
	s.threadPool.Stop()
}
