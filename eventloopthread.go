// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"runtime"
	"sync"
)

// EventLoopThread runs one EventLoop on a dedicated goroutine locked to an
// OS thread.
type EventLoopThread struct {
	mu      sync.Mutex
	cond    *sync.Cond
	loop    *EventLoop
	started bool
	done    chan struct{}
}

// NewEventLoopThread returns an unstarted loop thread.
func NewEventLoopThread() *EventLoopThread {
	t := &EventLoopThread{done: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// StartLoop launches the goroutine and blocks until its EventLoop exists.
func (t *EventLoopThread) StartLoop() *EventLoop {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		panic("reactor: EventLoopThread started twice")
	}
	t.started = true
	t.mu.Unlock()

	go t.threadFunc()

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	loop := t.loop
	t.mu.Unlock()
	return loop
}

func (t *EventLoopThread) threadFunc() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	loop := NewEventLoop()

	t.mu.Lock()
	t.loop = loop
	t.cond.Broadcast()
	t.mu.Unlock()

	loop.Loop()
	loop.Close()

	t.mu.Lock()
	t.loop = nil
	t.mu.Unlock()
}

// Stop quits the loop and waits for the goroutine to exit.
func (t *EventLoopThread) Stop() {
	t.mu.Lock()
	loop := t.loop
	started := t.started
	t.mu.Unlock()
	if !started {
		return
	}
	if loop != nil {
		loop.Quit()
	}
	<-t.done
}
