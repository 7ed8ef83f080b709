// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

// Package reactor implements a reactor-pattern TCP networking library.
// An EventLoop multiplexes I/O readiness on one goroutine, a TimerQueue
// integrates timer expiration into the same wakeup mechanism, and
// TcpServer/TcpClient compose one-loop-per-thread servers and clients
// with buffered duplex connections.
package reactor
