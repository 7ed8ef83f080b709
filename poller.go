// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

// Poller multiplexes I/O readiness for the Channels of one EventLoop. Two
// variants exist: a readiness-poll implementation over poll(2) and a
// ready-list implementation over epoll. Platform event bits never leak
// past a Poller; translation happens at its boundary.
type Poller interface {
	// Poll blocks up to timeoutMs and appends every Channel with pending
	// revents to active.
	Poll(timeoutMs int, active *[]*Channel)
	// UpdateChannel pushes the Channel's subscription mask into the
	// platform structures. O(1) for known channels.
	UpdateChannel(c *Channel)
	// RemoveChannel removes a Channel whose subscription is empty.
	RemoveChannel(c *Channel)
	// Close releases platform resources.
	Close() error
}

type pollerBase struct {
	loop     *EventLoop
	channels map[int]*Channel
}

func (p *pollerBase) assertInLoopThread() {
	p.loop.AssertInLoopThread()
}

func (p *pollerBase) hasChannel(c *Channel) bool {
	ch, ok := p.channels[c.fd]
	return ok && ch == c
}
