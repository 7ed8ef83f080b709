// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

//go:build linux
// +build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// TimerQueue schedules callbacks on its loop. On Linux a timerfd carries
// the earliest expiration into the poll cycle, so timers wake the loop the
// same way every other descriptor does. Adds, cancels and the expiration
// handler all run on the loop goroutine.
type TimerQueue struct {
	timerQueueCore
	loop    *EventLoop
	timerfd int
	channel *Channel
}

func newTimerQueue(loop *EventLoop) *TimerQueue {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		logFatal(err, "TimerQueue: timerfd_create")
	}
	q := &TimerQueue{
		timerQueueCore: newTimerQueueCore(),
		loop:           loop,
		timerfd:        fd,
	}
	q.channel = NewChannel(loop, fd)
	q.channel.SetReadCallback(q.handleRead)
	q.channel.EnableRead()
	return q
}

func (q *TimerQueue) close() {
	q.channel.DisableAll()
	q.channel.Remove()
	unix.Close(q.timerfd)
}

func (q *TimerQueue) addTimer(cb func(), when time.Time, interval time.Duration) TimerId {
	t := newTimer(cb, when, interval)
	q.loop.RunInLoop(func() {
		q.addTimerInLoop(t)
	})
	return TimerId{timer: t, sequence: t.sequence}
}

func (q *TimerQueue) cancel(id TimerId) {
	q.loop.RunInLoop(func() {
		q.cancelInLoop(id)
	})
}

func (q *TimerQueue) addTimerInLoop(t *Timer) {
	q.loop.AssertInLoopThread()
	if q.insert(t) {
		q.resetTimerfd(t.expiration)
	}
}

func (q *TimerQueue) cancelInLoop(id TimerId) {
	q.loop.AssertInLoopThread()
	q.cancelTimer(id)
}

func (q *TimerQueue) handleRead() {
	q.loop.AssertInLoopThread()
	now := time.Now()
	q.readTimerfd()

	expired := q.getExpired(now)

	q.canceling = make(map[activeTimer]struct{})
	q.calling = true
	for _, e := range expired {
		e.t.run()
	}
	q.calling = false

	if next := q.reset(expired, now); !next.IsZero() {
		q.resetTimerfd(next)
	}
}

// setSizes reports the sizes of the primary and auxiliary sets. Loop
// goroutine only.
func (q *TimerQueue) setSizes() (int, int) {
	q.loop.AssertInLoopThread()
	return len(q.timers), len(q.active)
}

func (q *TimerQueue) readTimerfd() {
	var buf [8]byte
	n, err := unix.Read(q.timerfd, buf[:])
	if n != 8 {
		logError().Err(err).Int("n", n).Msg("TimerQueue: handleRead reads wrong byte count")
	}
}

// resetTimerfd arms the descriptor for the given expiration. The delay is
// clamped to 100us so an already-due timer still produces a readiness
// event instead of disarming the fd.
func (q *TimerQueue) resetTimerfd(expiration time.Time) {
	delay := time.Until(expiration)
	if delay < 100*time.Microsecond {
		delay = 100 * time.Microsecond
	}
	it := unix.ItimerSpec{
		Value: unix.NsecToTimespec(delay.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(q.timerfd, 0, &it, nil); err != nil {
		logError().Err(err).Msg("TimerQueue: timerfd_settime")
	}
}
