// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only in Advance. It is safe
// for concurrent use.
//
// Callbacks run on the goroutine calling Advance, earliest deadline
// first, with ties in registration order. A callback may schedule
// further calls but must not call Advance.
type FakeClock struct {
	mu       sync.Mutex
	now      time.Time
	sequence uint64
	queue    timerQueue
	changed  *sync.Cond
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

type fakeTimer struct {
	deadline time.Time
	sequence uint64
	call     func()
	index    int // position in the queue, -1 once removed
}

// AfterFunc schedules f for now+d. With d <= 0, f runs before
// AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{cancel: func() bool { return false }}
	}

	c.mu.Lock()
	c.sequence++
	timer := &fakeTimer{deadline: c.now.Add(d), sequence: c.sequence, call: f}
	heap.Push(&c.queue, timer)
	c.changed.Broadcast()
	c.mu.Unlock()

	return &Timer{cancel: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if timer.index < 0 {
			return false
		}
		heap.Remove(&c.queue, timer.index)
		return true
	}}
}

// Advance moves the clock forward by d, running every call that falls
// due. Calls scheduled by those callbacks count their delay from the
// new time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	for len(c.queue) > 0 && !c.queue[0].deadline.After(c.now) {
		timer := heap.Pop(&c.queue).(*fakeTimer)
		c.mu.Unlock()
		timer.call()
		c.mu.Lock()
	}
	c.mu.Unlock()
}

// WaitForTimers blocks until at least n calls are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of calls not yet run or stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// timerQueue is a min-heap on (deadline, sequence).
type timerQueue []*fakeTimer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].sequence < q[j].sequence
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	timer := x.(*fakeTimer)
	timer.index = len(*q)
	*q = append(*q, timer)
}

func (q *timerQueue) Pop() any {
	old := *q
	last := old[len(old)-1]
	old[len(old)-1] = nil
	last.index = -1
	*q = old[:len(old)-1]
	return last
}
