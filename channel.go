// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

// Event is a bitmask of I/O conditions a Channel subscribes to or a Poller
// reports.
type Event int

const (
	// EventNone subscribes to nothing.
	EventNone Event = 0x0
	// EventRead is readable data, including a half-close with pending data.
	EventRead Event = 0x1
	// EventWrite is writability.
	EventWrite Event = 0x2
	// EventError is an error condition or invalid descriptor.
	EventError Event = 0x4
	// EventClose is a hang-up with no readable data left.
	EventClose Event = 0x8
)

// A Channel binds one descriptor to its event subscription and callbacks.
// It does not own the descriptor and belongs to exactly one EventLoop for
// its whole life; all methods must run on that loop's goroutine. Every
// subscription change is pushed to the Poller immediately so the two never
// drift apart.
type Channel struct {
	loop    *EventLoop
	fd      int
	events  Event
	revents Event
	index   int

	handling bool
	tied     bool
	tie      interface{}

	readCallback  func()
	writeCallback func()
	errorCallback func()
	closeCallback func()
}

// NewChannel returns a Channel for fd dispatching on loop.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: -1}
}

// SetReadCallback sets the callback fired on read readiness.
func (c *Channel) SetReadCallback(cb func()) { c.readCallback = cb }

// SetWriteCallback sets the callback fired on write readiness.
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }

// SetErrorCallback sets the callback fired on an error condition.
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// SetCloseCallback sets the callback fired on hang-up.
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }

// Fd returns the descriptor this Channel dispatches for.
func (c *Channel) Fd() int { return c.fd }

// Events returns the current subscription mask.
func (c *Channel) Events() Event { return c.events }

func (c *Channel) setRevents(e Event) { c.revents = e }

// IsNoneEvent reports whether nothing is subscribed.
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

// IsReading reports whether read events are subscribed.
func (c *Channel) IsReading() bool { return c.events&EventRead != 0 }

// IsWriting reports whether write events are subscribed.
func (c *Channel) IsWriting() bool { return c.events&EventWrite != 0 }

// EnableRead subscribes to read events.
func (c *Channel) EnableRead() {
	c.events |= EventRead
	c.update()
}

// DisableRead unsubscribes from read events.
func (c *Channel) DisableRead() {
	c.events &^= EventRead
	c.update()
}

// EnableWrite subscribes to write events.
func (c *Channel) EnableWrite() {
	c.events |= EventWrite
	c.update()
}

// DisableWrite unsubscribes from write events.
func (c *Channel) DisableWrite() {
	c.events &^= EventWrite
	c.update()
}

// DisableAll clears the subscription. It must precede Remove.
func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

// Tie tethers the Channel to its owner. Dispatch holds the tether for the
// duration of one handler invocation so callbacks never outlive the owner
// mid-event.
func (c *Channel) Tie(owner interface{}) {
	c.tie = owner
	c.tied = true
}

// Untie drops the tether once the owner has torn down. A dispatch racing
// the teardown then fails the upgrade and is skipped.
func (c *Channel) Untie() {
	c.tie = nil
}

// OwnerLoop returns the EventLoop this Channel belongs to.
func (c *Channel) OwnerLoop() *EventLoop { return c.loop }

// Remove takes the Channel out of the Poller. The subscription must
// already be empty.
func (c *Channel) Remove() {
	if !c.IsNoneEvent() {
		panic("reactor: Channel.Remove with live subscription")
	}
	c.loop.removeChannel(c)
}

func (c *Channel) update() {
	c.loop.updateChannel(c)
}

// handleEvent dispatches the revents set by the last poll. Close runs
// first because it may drop the connection the later callbacks would
// touch, then error, read, write.
func (c *Channel) handleEvent() {
	if c.tied {
		guard := c.tie
		if guard == nil {
			return
		}
		c.handleEventWithGuard()
		_ = guard
		return
	}
	c.handleEventWithGuard()
}

func (c *Channel) handleEventWithGuard() {
	c.handling = true
	if c.revents&EventClose != 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&EventError != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&EventRead != 0 {
		if c.readCallback != nil {
			c.readCallback()
		}
	}
	if c.revents&EventWrite != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
	c.handling = false
}
