// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd || linux
// +build darwin dragonfly freebsd netbsd openbsd linux

package reactor

import (
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func closeServer(loop *EventLoop, s *TcpServer) {
	done := make(chan struct{})
	loop.RunInLoop(func() {
		s.Close()
		close(done)
	})
	<-done
}

func numConnections(loop *EventLoop, s *TcpServer) int {
	n := make(chan int, 1)
	loop.RunInLoop(func() {
		n <- s.NumConnections()
	})
	return <-n
}

func TestEchoServer(t *testing.T) {
	loop := startLoopThread(t)
	addr, _ := NewInetAddress("127.0.0.1", 9981)
	server := NewTcpServer(loop, addr, "echo", false)
	server.SetThreadNum(1)
	disconnected := make(chan string, 1)
	server.SetConnectionCallback(func(conn *TcpConnection) {
		if !conn.Connected() {
			disconnected <- conn.Name()
		}
	})
	server.SetMessageCallback(func(conn *TcpConnection, buf *Buffer) {
		conn.Send(buf.Peek())
		buf.Reset()
	})
	server.Start()
	defer closeServer(loop, server)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:9981")
	if err != nil {
		t.Fatal("dial failed:", err)
	}
	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatal(err)
	}
	reply := make([]byte, 5)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if string(reply) != "ping\n" {
		t.Errorf("echo mismatch: %q", reply)
	}
	if n := numConnections(loop, server); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}

	conn.Close()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect notification")
	}
	deadline := time.Now().Add(2 * time.Second)
	for numConnections(loop, server) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection map did not shrink")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBackPressure(t *testing.T) {
	loop := startLoopThread(t)
	addr, _ := NewInetAddress("127.0.0.1", 9982)
	server := NewTcpServer(loop, addr, "pressure", false)

	const payloadSize = 4 * 1024 * 1024
	var hwmCount, writeComplete int32
	var hwmSize int64
	var connMu sync.Mutex
	var serverConn *TcpConnection
	ready := make(chan struct{})
	drained := make(chan struct{}, 1)

	server.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			conn.SetHighWaterMarkCallback(func(conn *TcpConnection, size int) {
				atomic.AddInt32(&hwmCount, 1)
				atomic.StoreInt64(&hwmSize, int64(size))
			}, 1024)
			connMu.Lock()
			serverConn = conn
			connMu.Unlock()
			close(ready)
		}
	})
	server.SetWriteCompleteCallback(func(conn *TcpConnection) {
		if atomic.AddInt32(&writeComplete, 1) == 1 {
			drained <- struct{}{}
		}
	})
	server.Start()
	defer closeServer(loop, server)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:9982")
	if err != nil {
		t.Fatal("dial failed:", err)
	}
	defer conn.Close()
	<-ready

	// The peer reads nothing, so the kernel buffers fill and the
	// remainder lands in the output buffer, crossing the threshold.
	payload := bytes.Repeat([]byte("w"), payloadSize)
	connMu.Lock()
	sc := serverConn
	connMu.Unlock()
	sc.Send(payload)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&hwmCount) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("high-water mark did not fire")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Drain: read the whole payload.
	got := 0
	buf := make([]byte, 64*1024)
	for got < payloadSize {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		got += n
	}

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("write complete did not fire")
	}
	time.Sleep(100 * time.Millisecond)

	if n := atomic.LoadInt32(&hwmCount); n != 1 {
		t.Errorf("high-water mark fired %d times, want 1", n)
	}
	size := atomic.LoadInt64(&hwmSize)
	if size < 1024 || size > payloadSize {
		t.Errorf("high-water size = %d", size)
	}
	if n := atomic.LoadInt32(&writeComplete); n != 1 {
		t.Errorf("write complete fired %d times, want 1", n)
	}
	empty := make(chan int, 1)
	sc.GetLoop().RunInLoop(func() {
		empty <- sc.outputBuffer.ReadableBytes()
	})
	if n := <-empty; n != 0 {
		t.Errorf("output buffer not empty: %d bytes", n)
	}
}

func TestCrossThreadSend(t *testing.T) {
	loop := startLoopThread(t)
	addr, _ := NewInetAddress("127.0.0.1", 9984)
	server := NewTcpServer(loop, addr, "cross", false)
	server.SetThreadNum(2)

	conns := make(chan *TcpConnection, 1)
	server.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			conns <- conn
		}
	})
	server.Start()
	defer closeServer(loop, server)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:9984")
	if err != nil {
		t.Fatal("dial failed:", err)
	}
	defer conn.Close()
	serverConn := <-conns

	const sends = 1000
	msg := []byte("hello")
	go func() {
		// Not the connection's loop goroutine: every Send marshals.
		for i := 0; i < sends; i++ {
			serverConn.Send(msg)
		}
	}()

	want := bytes.Repeat(msg, sends)
	got := make([]byte, 0, len(want))
	buf := make([]byte, 32*1024)
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for len(got) < len(want) {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, want) {
		t.Error("cross-thread sends arrived corrupted or out of order")
	}
}
