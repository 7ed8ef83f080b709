// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package reactor

import (
	"strconv"

	"golang.org/x/sys/unix"
)

const pollRDHUP = int16(unix.POLLRDHUP)

// Tag is the default poll type.
var Tag = "epoll"

func newDefaultPoller(loop *EventLoop) Poller {
	return newEpollPoller(loop)
}

const (
	initEpollListSize = 16

	// Channel.index doubles as registration state for epoll.
	epollNew      = -1
	epollAdded    = 1
	epollDetached = 2
)

// epollPoller is the ready-list variant. The kernel hands back only the
// descriptors with pending events, so no scan over the registered set is
// needed.
type epollPoller struct {
	pollerBase
	epfd   int
	events []unix.EpollEvent
}

func newEpollPoller(loop *EventLoop) *epollPoller {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		logFatal(err, "epollPoller: epoll_create1")
	}
	return &epollPoller{
		pollerBase: pollerBase{loop: loop, channels: make(map[int]*Channel)},
		epfd:       epfd,
		events:     make([]unix.EpollEvent, initEpollListSize),
	}
}

func (p *epollPoller) Poll(timeoutMs int, active *[]*Channel) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if n > 0 {
		logTrace().Int("events", n).Msg("epollPoller: events happened")
		p.fillActiveChannels(n, active)
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, len(p.events)*2)
		}
	} else if n == 0 {
		logTrace().Msg("epollPoller: nothing happened")
	} else if err != unix.EINTR {
		logError().Err(err).Msg("epollPoller: epoll_wait")
	}
}

func (p *epollPoller) fillActiveChannels(numEvents int, active *[]*Channel) {
	for i := 0; i < numEvents; i++ {
		ev := &p.events[i]
		channel, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		channel.setRevents(parseEpollEvent(ev.Events))
		*active = append(*active, channel)
	}
}

func (p *epollPoller) UpdateChannel(c *Channel) {
	p.assertInLoopThread()
	logTrace().Int("fd", c.fd).Int("events", int(c.events)).Msg("epollPoller: update channel")
	switch c.index {
	case epollNew, epollDetached:
		if c.index == epollNew {
			if _, ok := p.channels[c.fd]; ok {
				panic("reactor: epollPoller double register")
			}
			p.channels[c.fd] = c
		} else if p.channels[c.fd] != c {
			panic("reactor: epollPoller channel mismatch")
		}
		c.index = epollAdded
		p.control(unix.EPOLL_CTL_ADD, c)
	default:
		if p.channels[c.fd] != c || c.index != epollAdded {
			panic("reactor: epollPoller channel mismatch")
		}
		if c.IsNoneEvent() {
			p.control(unix.EPOLL_CTL_DEL, c)
			c.index = epollDetached
		} else {
			p.control(unix.EPOLL_CTL_MOD, c)
		}
	}
}

func (p *epollPoller) RemoveChannel(c *Channel) {
	p.assertInLoopThread()
	logTrace().Int("fd", c.fd).Msg("epollPoller: remove channel")
	if p.channels[c.fd] != c || !c.IsNoneEvent() {
		panic("reactor: epollPoller removing unknown or subscribed channel")
	}
	delete(p.channels, c.fd)
	if c.index == epollAdded {
		p.control(unix.EPOLL_CTL_DEL, c)
	}
	c.index = epollNew
}

func (p *epollPoller) control(op int, c *Channel) {
	ev := &unix.EpollEvent{
		Events: getEpollEvent(c.events),
		Fd:     int32(c.fd),
	}
	if err := unix.EpollCtl(p.epfd, op, c.fd, ev); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			logError().Err(err).Int("fd", c.fd).Msg("epollPoller: epoll_ctl del")
		} else {
			logFatal(err, "epollPoller: epoll_ctl fd "+strconv.Itoa(c.fd))
		}
	}
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func getEpollEvent(e Event) uint32 {
	var ret uint32
	if e&EventRead != 0 {
		ret |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if e&EventWrite != 0 {
		ret |= unix.EPOLLOUT
	}
	return ret
}

func parseEpollEvent(events uint32) Event {
	var ret Event
	if events&unix.EPOLLHUP != 0 && events&unix.EPOLLIN == 0 {
		ret |= EventClose
	}
	if events&unix.EPOLLERR != 0 {
		ret |= EventError
	}
	if events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		ret |= EventRead
	}
	if events&unix.EPOLLOUT != 0 {
		ret |= EventWrite
	}
	return ret
}
