// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

// ConnectionCallback fires when a connection is established and again when
// it disconnects; inspect Connected to tell the two apart.
type ConnectionCallback func(conn *TcpConnection)

// MessageCallback fires with the input buffer each time data arrives. The
// callback owns consuming the buffer.
type MessageCallback func(conn *TcpConnection, buf *Buffer)

// WriteCompleteCallback fires when the output buffer fully drains.
type WriteCompleteCallback func(conn *TcpConnection)

// HighWaterMarkCallback fires once when the output buffer crosses the
// configured threshold, with the new buffered size.
type HighWaterMarkCallback func(conn *TcpConnection, size int)

// CloseCallback is the internal disconnect notification used by TcpServer
// and TcpClient to drop their reference.
type CloseCallback func(conn *TcpConnection)

func defaultConnectionCallback(conn *TcpConnection) {
	state := "down"
	if conn.Connected() {
		state = "up"
	}
	logInfo().Str("local", conn.LocalAddr().String()).Str("peer", conn.PeerAddr().String()).Str("state", state).Msg("connection")
}

func defaultMessageCallback(conn *TcpConnection, buf *Buffer) {
	buf.Reset()
}
