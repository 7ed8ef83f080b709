// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd || linux
// +build darwin dragonfly freebsd netbsd openbsd linux

package reactor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func checkBufferInvariants(t *testing.T, b *Buffer) {
	t.Helper()
	require.LessOrEqual(t, 0, b.readerIndex)
	require.LessOrEqual(t, b.readerIndex, b.writerIndex)
	require.LessOrEqual(t, b.writerIndex, len(b.buf))
	require.Equal(t, b.writerIndex-b.readerIndex, b.ReadableBytes())
	if b.ReadableBytes() == 0 {
		require.Equal(t, initialPrepend, b.readerIndex)
		require.Equal(t, initialPrepend, b.writerIndex)
	}
}

func TestBufferAppendRetrieve(t *testing.T) {
	b := NewBuffer()
	checkBufferInvariants(t, b)
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, initialBufferSize, b.WritableBytes())
	assert.Equal(t, initialPrepend, b.PrependableBytes())

	payload := bytes.Repeat([]byte("x"), 200)
	b.Append(payload)
	checkBufferInvariants(t, b)
	assert.Equal(t, 200, b.ReadableBytes())

	b.Retrieve(50)
	checkBufferInvariants(t, b)
	assert.Equal(t, 150, b.ReadableBytes())
	assert.Equal(t, initialPrepend+50, b.PrependableBytes())

	s := b.RetrieveAsString()
	assert.Equal(t, 150, len(s))
	checkBufferInvariants(t, b)
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestBufferRetrieveAsStringLaw(t *testing.T) {
	b := NewBuffer()
	p := []byte("hello, reactor")
	b.Append(p)
	s := b.RetrieveAsString()
	assert.Equal(t, string(p), s)
	assert.Equal(t, 0, b.ReadableBytes())
	checkBufferInvariants(t, b)
}

func TestBufferGrow(t *testing.T) {
	b := NewBuffer()
	b.Append(bytes.Repeat([]byte("a"), 400))
	b.Retrieve(300)
	// Free space on both sides covers the request: content relocates
	// instead of reallocating.
	oldCap := len(b.buf)
	b.Append(bytes.Repeat([]byte("b"), initialBufferSize-200))
	assert.Equal(t, oldCap, len(b.buf))
	checkBufferInvariants(t, b)
	got := b.RetrieveAsString()
	assert.Equal(t, bytes.Repeat([]byte("a"), 100), []byte(got[:100]))
	assert.Equal(t, bytes.Repeat([]byte("b"), initialBufferSize-200), []byte(got[100:]))
}

func TestBufferGrowPreservesContent(t *testing.T) {
	b := NewBuffer()
	payload := bytes.Repeat([]byte("0123456789"), 400)
	b.Append(payload)
	checkBufferInvariants(t, b)
	require.Greater(t, len(b.buf), initialPrepend+initialBufferSize)
	assert.Equal(t, payload, []byte(b.RetrieveAsString()))
}

func TestBufferPrepend(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("payload"))
	b.Prepend([]byte{0x0, 0x7})
	assert.Equal(t, initialPrepend-2, b.PrependableBytes())
	assert.Equal(t, "\x00\x07payload", b.RetrieveAsString())
}

func TestBufferShrink(t *testing.T) {
	b := NewBuffer()
	b.Append(bytes.Repeat([]byte("y"), 4000))
	b.Retrieve(3900)
	b.Shrink(0)
	assert.Equal(t, 100, b.ReadableBytes())
	assert.Equal(t, initialPrepend+100, len(b.buf))
	assert.Equal(t, bytes.Repeat([]byte("y"), 100), b.Peek())
}

func TestBufferSwap(t *testing.T) {
	a := NewBuffer()
	b := NewBuffer()
	a.Append([]byte("aaa"))
	b.Append([]byte("bb"))
	a.Swap(b)
	assert.Equal(t, "bb", a.RetrieveAsString())
	assert.Equal(t, "aaa", b.RetrieveAsString())
}

func TestBufferReadFd(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	msg := []byte("ping\n")
	_, err = unix.Write(fds[1], msg)
	require.NoError(t, err)

	b := NewBuffer()
	n, err := b.ReadFd(fds[0])
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)
	assert.Equal(t, string(msg), b.RetrieveAsString())
	checkBufferInvariants(t, b)
}

func TestGetReadableBytes(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	n, err := getReadableBytes(fds[0])
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = unix.Write(fds[1], []byte("pending"))
	require.NoError(t, err)
	n, err = getReadableBytes(fds[0])
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestBufferReadFdOverflow(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	payload := bytes.Repeat([]byte("z"), 8000)
	_, err = unix.Write(fds[1], payload)
	require.NoError(t, err)

	b := NewBuffer()
	total := 0
	for total < len(payload) {
		n, err := b.ReadFd(fds[0])
		require.NoError(t, err)
		require.Greater(t, n, 0)
		total += n
	}
	assert.Equal(t, len(payload), b.ReadableBytes())
	assert.Equal(t, payload, []byte(b.RetrieveAsString()))
	checkBufferInvariants(t, b)
}
