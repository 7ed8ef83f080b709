// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"sort"
	"time"
)

// timerEntry orders the primary set by (expiration, sequence). The
// sequence stands in for pointer identity so two timers with equal
// expiration stay distinct.
type timerEntry struct {
	when time.Time
	t    *Timer
}

type activeTimer struct {
	t        *Timer
	sequence int64
}

// timerQueueCore holds the two timer sets and the cancel-in-callback
// bookkeeping shared by both TimerQueue variants. Synchronization is the
// variant's job: the timerfd variant confines every access to the loop
// goroutine, the waiter variant wraps each access in its mutex.
type timerQueueCore struct {
	timers    []timerEntry
	active    map[activeTimer]struct{}
	canceling map[activeTimer]struct{}
	calling   bool
}

func newTimerQueueCore() timerQueueCore {
	return timerQueueCore{
		active:    make(map[activeTimer]struct{}),
		canceling: make(map[activeTimer]struct{}),
	}
}

func (q *timerQueueCore) checkSets() {
	if len(q.timers) != len(q.active) {
		panic("reactor: timer set sizes diverged")
	}
}

func entryLess(a, b timerEntry) bool {
	if a.when.Equal(b.when) {
		return a.t.sequence < b.t.sequence
	}
	return a.when.Before(b.when)
}

// insert adds a timer to both sets and reports whether the earliest
// expiration changed.
func (q *timerQueueCore) insert(t *Timer) bool {
	q.checkSets()
	entry := timerEntry{when: t.expiration, t: t}
	idx := sort.Search(len(q.timers), func(i int) bool {
		return !entryLess(q.timers[i], entry)
	})
	earliestChanged := idx == 0
	q.timers = append(q.timers, timerEntry{})
	copy(q.timers[idx+1:], q.timers[idx:])
	q.timers[idx] = entry
	q.active[activeTimer{t: t, sequence: t.sequence}] = struct{}{}
	q.checkSets()
	return earliestChanged
}

// getExpired splices every timer not strictly later than now out of both
// sets and returns them in expiration order.
func (q *timerQueueCore) getExpired(now time.Time) []timerEntry {
	q.checkSets()
	idx := sort.Search(len(q.timers), func(i int) bool {
		return q.timers[i].when.After(now)
	})
	expired := make([]timerEntry, idx)
	copy(expired, q.timers[:idx])
	q.timers = q.timers[:copy(q.timers, q.timers[idx:])]
	for _, e := range expired {
		delete(q.active, activeTimer{t: e.t, sequence: e.t.sequence})
	}
	q.checkSets()
	return expired
}

// reset re-inserts expired repeaters, skipping any canceled from inside
// their own callback, and returns the next expiration (zero when none).
func (q *timerQueueCore) reset(expired []timerEntry, now time.Time) time.Time {
	for _, e := range expired {
		key := activeTimer{t: e.t, sequence: e.t.sequence}
		if e.t.repeat {
			if _, canceled := q.canceling[key]; !canceled {
				e.t.restart(now)
				q.insert(e.t)
			}
		}
	}
	if len(q.timers) > 0 {
		return q.timers[0].t.expiration
	}
	return time.Time{}
}

// cancelTimer removes the identified timer. A timer currently in the
// firing batch is not in the sets; recording it in canceling suppresses
// its re-insert. Returns whether the timer was found live.
func (q *timerQueueCore) cancelTimer(id TimerId) bool {
	q.checkSets()
	key := activeTimer{t: id.timer, sequence: id.sequence}
	if _, ok := q.active[key]; ok {
		entry := timerEntry{when: id.timer.expiration, t: id.timer}
		idx := sort.Search(len(q.timers), func(i int) bool {
			return !entryLess(q.timers[i], entry)
		})
		if idx >= len(q.timers) || q.timers[idx].t != id.timer {
			panic("reactor: timer sets out of sync")
		}
		q.timers = append(q.timers[:idx], q.timers[idx+1:]...)
		delete(q.active, key)
		q.checkSets()
		return true
	}
	if q.calling {
		q.canceling[key] = struct{}{}
	}
	q.checkSets()
	return false
}
