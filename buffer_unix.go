// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd || linux
// +build darwin dragonfly freebsd netbsd openbsd linux

package reactor

import (
	"github.com/hslam/buffer"
	"golang.org/x/sys/unix"
)

var extraPool = buffer.AssignPool(extraBufferSize)

// ReadFd scatter-reads from fd into the writable region plus a pooled
// extra segment, so one syscall can pull in more than the buffer's free
// space without growing it up front. Overflow lands in the extra segment
// and is appended through the normal growth path.
func (b *Buffer) ReadFd(fd int) (int, error) {
	extra := extraPool.GetBuffer(extraBufferSize)
	defer extraPool.PutBuffer(extra)
	writable := b.WritableBytes()
	vec := [][]byte{b.buf[b.writerIndex:], extra}
	n, err := unix.Readv(fd, vec)
	if err != nil || n < 0 {
		return -1, err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, err
}
