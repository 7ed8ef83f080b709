// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd || linux
// +build darwin dragonfly freebsd netbsd openbsd linux

package reactor

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestClientEcho(t *testing.T) {
	serverLoop := startLoopThread(t)
	addr, _ := NewInetAddress("127.0.0.1", 9985)
	server := NewTcpServer(serverLoop, addr, "echo", false)
	server.SetMessageCallback(func(conn *TcpConnection, buf *Buffer) {
		conn.SendBuffer(buf)
	})
	server.Start()
	defer closeServer(serverLoop, server)
	time.Sleep(50 * time.Millisecond)

	clientLoop := startLoopThread(t)
	client := NewTcpClient(clientLoop, addr, "client")
	echoed := make(chan string, 1)
	down := make(chan struct{}, 1)
	client.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			conn.SendString("ping")
		} else {
			down <- struct{}{}
		}
	})
	client.SetMessageCallback(func(conn *TcpConnection, buf *Buffer) {
		echoed <- buf.RetrieveAsString()
	})
	client.Connect()

	select {
	case got := <-echoed:
		if got != "ping" {
			t.Errorf("echo mismatch: %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no echo")
	}
	if client.Connection() == nil {
		t.Error("no live connection")
	}

	client.Disconnect()
	select {
	case <-down:
	case <-time.After(3 * time.Second):
		t.Fatal("no disconnect notification")
	}
	if client.Connection() != nil {
		t.Error("connection slot not cleared")
	}
}

func TestClientRetryReconnect(t *testing.T) {
	serverLoop := startLoopThread(t)
	addr, _ := NewInetAddress("127.0.0.1", 9986)
	server := NewTcpServer(serverLoop, addr, "flaky", false)
	var kicked int32
	server.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() && atomic.CompareAndSwapInt32(&kicked, 0, 1) {
			// Drop the first connection so the client reconnects.
			conn.ForceClose()
		}
	})
	server.Start()
	defer closeServer(serverLoop, server)
	time.Sleep(50 * time.Millisecond)

	clientLoop := startLoopThread(t)
	client := NewTcpClient(clientLoop, addr, "retrying")
	client.EnableRetry()
	var ups int32
	client.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			atomic.AddInt32(&ups, 1)
		}
	})
	client.Connect()

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&ups) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("client did not reconnect after losing the connection")
		}
		time.Sleep(20 * time.Millisecond)
	}
	client.Disconnect()
	time.Sleep(100 * time.Millisecond)
}

func TestClientStop(t *testing.T) {
	clientLoop := startLoopThread(t)
	// Nothing listens here; the connect keeps retrying until Stop.
	addr, _ := NewInetAddress("127.0.0.1", 9987)
	client := NewTcpClient(clientLoop, addr, "stopped")
	var ups int32
	client.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			atomic.AddInt32(&ups, 1)
		}
	})
	client.Connect()
	time.Sleep(100 * time.Millisecond)
	client.Stop()
	time.Sleep(700 * time.Millisecond)
	if atomic.LoadInt32(&ups) != 0 {
		t.Error("stopped client still connected")
	}
	if client.Connection() != nil {
		t.Error("stopped client holds a connection")
	}
}
