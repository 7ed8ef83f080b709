// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/petermattis/goid"
)

const defaultPollTimeMs = 10000

// loopRegistry maps goroutine id to its EventLoop, standing in for a
// thread-local to enforce one loop per goroutine.
var loopRegistry sync.Map

// EventLoop runs the poll-dispatch-drain cycle on the goroutine that
// created it. Only RunInLoop, QueueInLoop, Wakeup, the timer methods and
// Quit may be called from other goroutines; everything else asserts loop
// affinity.
type EventLoop struct {
	goroutineID    int64
	poller         Poller
	timerQueue     *TimerQueue
	wakeupReadFd   int
	wakeupWriteFd  int
	wakeupChannel  *Channel
	mu             sync.Mutex
	pending        *queue.Queue
	callingPending atomic.Bool
	looping        bool
	quit           atomic.Bool
	activeChannels []*Channel
}

// NewEventLoop creates an EventLoop bound to the calling goroutine.
// Creating a second loop on the same goroutine is a programming error.
func NewEventLoop() *EventLoop {
	l := &EventLoop{
		goroutineID: goid.Get(),
		pending:     queue.New(),
	}
	l.poller = newDefaultPoller(l)
	if _, loaded := loopRegistry.LoadOrStore(l.goroutineID, l); loaded {
		panic("reactor: another EventLoop exists on this goroutine")
	}
	rfd, wfd, err := createWakeup()
	if err != nil {
		logFatal(err, "EventLoop: failed to create wakeup")
	}
	l.wakeupReadFd = rfd
	l.wakeupWriteFd = wfd
	l.wakeupChannel = NewChannel(l, rfd)
	l.wakeupChannel.SetReadCallback(l.handleWakeupRead)
	l.wakeupChannel.EnableRead()
	l.timerQueue = newTimerQueue(l)
	logTrace().Int64("goroutine", l.goroutineID).Msg("EventLoop: created")
	return l
}

// CurrentEventLoop returns the EventLoop owned by the calling goroutine,
// or nil.
func CurrentEventLoop() *EventLoop {
	if l, ok := loopRegistry.Load(goid.Get()); ok {
		return l.(*EventLoop)
	}
	return nil
}

// IsInLoopThread reports whether the caller runs on the loop's goroutine.
func (l *EventLoop) IsInLoopThread() bool {
	return goid.Get() == l.goroutineID
}

// AssertInLoopThread panics when called off the loop's goroutine.
func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		panic("reactor: EventLoop method called from wrong goroutine")
	}
}

// Loop runs the cycle until Quit: poll, dispatch every active Channel,
// then drain the deferred task queue. Within one cycle all channel events
// complete before any deferred task runs.
func (l *EventLoop) Loop() {
	if l.looping {
		panic("reactor: EventLoop.Loop called reentrantly")
	}
	l.AssertInLoopThread()
	l.looping = true

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		l.poller.Poll(defaultPollTimeMs, &l.activeChannels)
		for _, channel := range l.activeChannels {
			channel.handleEvent()
		}
		l.handlePendingFunctors()
	}

	logTrace().Int64("goroutine", l.goroutineID).Msg("EventLoop: stop looping")
	l.looping = false
}

// Quit stops the cycle after the current iteration. Idempotent and safe
// from any goroutine.
func (l *EventLoop) Quit() {
	if l.quit.CompareAndSwap(false, true) {
		if !l.IsInLoopThread() {
			l.Wakeup()
		}
	}
}

// RunInLoop runs f on the loop goroutine: synchronously when already
// there, otherwise through the task queue.
func (l *EventLoop) RunInLoop(f func()) {
	if l.IsInLoopThread() {
		f()
	} else {
		l.QueueInLoop(f)
	}
}

// QueueInLoop enqueues f for the drain phase of a cycle. The loop is woken
// when the caller is off-thread, and also when the loop is currently
// draining: a task enqueued during drain would otherwise wait out a full
// poll timeout.
func (l *EventLoop) QueueInLoop(f func()) {
	l.mu.Lock()
	l.pending.Add(f)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPending.Load() {
		l.Wakeup()
	}
}

// RunAt schedules cb at the absolute time t.
func (l *EventLoop) RunAt(t time.Time, cb func()) TimerId {
	return l.timerQueue.addTimer(cb, t, 0)
}

// RunAfter schedules cb after delay d.
func (l *EventLoop) RunAfter(d time.Duration, cb func()) TimerId {
	return l.timerQueue.addTimer(cb, time.Now().Add(d), 0)
}

// RunLoop schedules cb every interval until canceled.
func (l *EventLoop) RunLoop(interval time.Duration, cb func()) TimerId {
	return l.timerQueue.addTimer(cb, time.Now().Add(interval), interval)
}

// Cancel cancels a scheduled timer. Idempotent; canceling a repeating
// timer from inside its own callback suppresses the re-arm.
func (l *EventLoop) Cancel(id TimerId) {
	l.timerQueue.cancel(id)
}

// Wakeup breaks a blocked poll by writing to the wakeup descriptor.
// Best-effort: a short write is logged, never propagated.
func (l *EventLoop) Wakeup() {
	var one = [8]byte{1}
	n, err := writeFd(l.wakeupWriteFd, one[:])
	if n != 8 {
		logError().Err(err).Int("n", n).Msg("EventLoop: wakeup writes wrong byte count")
	}
}

func (l *EventLoop) handleWakeupRead() {
	var one [8]byte
	n, err := readFd(l.wakeupReadFd, one[:])
	if n != 8 {
		logError().Err(err).Int("n", n).Msg("EventLoop: wakeup reads wrong byte count")
	}
}

// handlePendingFunctors swaps the queue into a local batch under the lock
// and runs the batch outside it, so tasks may re-enqueue freely and one
// drain is bounded by the tasks visible at the swap.
func (l *EventLoop) handlePendingFunctors() {
	var functors []func()
	l.callingPending.Store(true)
	l.mu.Lock()
	for l.pending.Length() > 0 {
		functors = append(functors, l.pending.Remove().(func()))
	}
	l.mu.Unlock()

	for _, f := range functors {
		f()
	}
	l.callingPending.Store(false)
}

func (l *EventLoop) updateChannel(c *Channel) {
	if c.OwnerLoop() != l {
		panic("reactor: Channel belongs to a different EventLoop")
	}
	l.AssertInLoopThread()
	l.poller.UpdateChannel(c)
}

func (l *EventLoop) removeChannel(c *Channel) {
	if c.OwnerLoop() != l {
		panic("reactor: Channel belongs to a different EventLoop")
	}
	l.AssertInLoopThread()
	l.poller.RemoveChannel(c)
}

func (l *EventLoop) hasChannel(c *Channel) bool {
	if c.OwnerLoop() != l {
		panic("reactor: Channel belongs to a different EventLoop")
	}
	l.AssertInLoopThread()
	switch p := l.poller.(type) {
	case interface{ hasChannel(*Channel) bool }:
		return p.hasChannel(c)
	}
	return false
}

// Close releases the loop's descriptors. The loop must have stopped and
// the caller must be on the loop goroutine.
func (l *EventLoop) Close() {
	if l.looping {
		panic("reactor: EventLoop.Close while looping")
	}
	l.AssertInLoopThread()
	l.timerQueue.close()
	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	closeWakeup(l.wakeupReadFd, l.wakeupWriteFd)
	l.poller.Close()
	loopRegistry.Delete(l.goroutineID)
}
