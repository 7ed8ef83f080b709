// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd || linux
// +build darwin dragonfly freebsd netbsd openbsd linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// pollPoller is the readiness-poll variant over poll(2). It keeps a dense
// pollfd vector; each Channel stores its slot index so updates are O(1).
type pollPoller struct {
	pollerBase
	pollfds []unix.PollFd
}

func newPollPoller(loop *EventLoop) *pollPoller {
	return &pollPoller{
		pollerBase: pollerBase{loop: loop, channels: make(map[int]*Channel)},
	}
}

func (p *pollPoller) Poll(timeoutMs int, active *[]*Channel) {
	n, err := unix.Poll(p.pollfds, timeoutMs)
	if n > 0 {
		logTrace().Int("events", n).Msg("pollPoller: events happened")
		p.fillActiveChannels(n, active)
	} else if n == 0 {
		logTrace().Msg("pollPoller: nothing happened")
	} else if err != unix.EINTR {
		logError().Err(err).Msg("pollPoller: poll")
	}
}

func (p *pollPoller) fillActiveChannels(numEvents int, active *[]*Channel) {
	for i := range p.pollfds {
		if numEvents <= 0 {
			break
		}
		pfd := &p.pollfds[i]
		if pfd.Revents == 0 {
			continue
		}
		numEvents--
		channel, ok := p.channels[int(pfd.Fd)]
		if !ok {
			panic("reactor: pollPoller revents for unknown fd")
		}
		channel.setRevents(parsePollEvent(pfd.Revents))
		*active = append(*active, channel)
	}
}

func (p *pollPoller) UpdateChannel(c *Channel) {
	p.assertInLoopThread()
	logTrace().Int("fd", c.fd).Int("events", int(c.events)).Msg("pollPoller: update channel")
	if c.index < 0 {
		if _, ok := p.channels[c.fd]; ok {
			panic("reactor: pollPoller double register")
		}
		p.pollfds = append(p.pollfds, unix.PollFd{
			Fd:     int32(c.fd),
			Events: getPollEvent(c.events),
		})
		c.index = len(p.pollfds) - 1
		p.channels[c.fd] = c
		return
	}
	if p.channels[c.fd] != c {
		panic("reactor: pollPoller channel mismatch")
	}
	idx := c.index
	pfd := &p.pollfds[idx]
	if int(pfd.Fd) != c.fd && int(pfd.Fd) != -c.fd-1 {
		panic("reactor: pollPoller slot mismatch")
	}
	pfd.Events = getPollEvent(c.events)
	pfd.Revents = 0
	if c.IsNoneEvent() {
		// Park the slot without surfacing events. The -1 offset keeps
		// descriptor 0 distinguishable.
		pfd.Fd = int32(-c.fd - 1)
	} else {
		pfd.Fd = int32(c.fd)
	}
}

func (p *pollPoller) RemoveChannel(c *Channel) {
	p.assertInLoopThread()
	logTrace().Int("fd", c.fd).Msg("pollPoller: remove channel")
	if p.channels[c.fd] != c || !c.IsNoneEvent() {
		panic("reactor: pollPoller removing unknown or subscribed channel")
	}
	idx := c.index
	delete(p.channels, c.fd)
	last := len(p.pollfds) - 1
	if idx != last {
		movedFd := int(p.pollfds[last].Fd)
		p.pollfds[idx] = p.pollfds[last]
		if movedFd < 0 {
			movedFd = -movedFd - 1
		}
		p.channels[movedFd].index = idx
	}
	p.pollfds = p.pollfds[:last]
	c.index = -1
}

func (p *pollPoller) Close() error {
	return nil
}

func getPollEvent(e Event) int16 {
	var ret int16
	if e&EventRead != 0 {
		ret |= unix.POLLIN | unix.POLLPRI
	}
	if e&EventWrite != 0 {
		ret |= unix.POLLOUT
	}
	return ret
}

func parsePollEvent(revents int16) Event {
	var ret Event
	if revents&unix.POLLHUP != 0 && revents&unix.POLLIN == 0 {
		ret |= EventClose
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		ret |= EventError
	}
	if revents&(unix.POLLIN|unix.POLLPRI|pollRDHUP) != 0 {
		ret |= EventRead
	}
	if revents&unix.POLLOUT != 0 {
		ret |= EventWrite
	}
	return ret
}
