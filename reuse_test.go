// Copyright (c) 2023 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd || linux
// +build darwin dragonfly freebsd netbsd openbsd linux

package reactor

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/hslam/reuse"
)

func TestReuseServerPort(t *testing.T) {
	msg := "Hello World"
	addr, _ := NewInetAddress("127.0.0.1", 9990)
	echo := func(conn *TcpConnection, buf *Buffer) {
		conn.Send(buf.Peek())
		buf.Reset()
	}
	servers := make([]*TcpServer, 2)
	loops := make([]*EventLoop, 2)
	for i := 0; i < 2; i++ {
		loops[i] = startLoopThread(t)
		servers[i] = NewTcpServer(loops[i], addr, "reuse", true)
		servers[i].SetMessageCallback(echo)
		servers[i].Start()
	}
	defer func() {
		for i := 0; i < 2; i++ {
			closeServer(loops[i], servers[i])
		}
	}()
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:9990")
	if err != nil {
		t.Fatal("dial failed:", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(msg)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != msg {
		t.Errorf("%q != %q", buf, msg)
	}
}

func TestReuseClientPort(t *testing.T) {
	msg := "Hello World"
	echo := func(conn *TcpConnection, buf *Buffer) {
		conn.Send(buf.Peek())
		buf.Reset()
	}
	ports := []uint16{9992, 9993}
	for _, port := range ports {
		addr, _ := NewInetAddress("127.0.0.1", port)
		loop := startLoopThread(t)
		server := NewTcpServer(loop, addr, "reuse-client", false)
		server.SetMessageCallback(echo)
		server.Start()
		l, s := loop, server
		defer closeServer(l, s)
	}
	time.Sleep(100 * time.Millisecond)

	// One local port talks to both servers through SO_REUSEADDR/PORT on
	// the dialer side.
	localPort := 9991
	d := net.Dialer{LocalAddr: &net.TCPAddr{Port: localPort}, Control: reuse.Control}
	for _, port := range ports {
		conn, err := d.Dial("tcp", "127.0.0.1:"+strconv.Itoa(int(port)))
		if err != nil {
			t.Fatal("dial failed:", err)
		}
		if _, err := conn.Write([]byte(msg)); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, len(msg))
		if _, err := io.ReadFull(conn, buf); err != nil {
			t.Fatal(err)
		}
		if string(buf) != msg {
			t.Errorf("%q != %q", buf, msg)
		}
		conn.Close()
	}
}
