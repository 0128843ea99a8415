// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sched

import "github.com/polykernel/sched/pkg/irqlock"

// Cond is a Mesa-style condition variable associated with a Mutex[T]:
// Wait atomically releases the guard and parks the caller, and the
// caller re-acquires the mutex itself on the way back out. Waiting tasks
// must therefore always re-check their condition in a loop, the same
// discipline sync.Cond requires.
type Cond[T any] struct {
	sched *Scheduler

	queueMu *irqlock.SpinlockIRQSave
	queue   priorityTaskQueue
}

// NewCond constructs a Cond for use with mutexes built from the same
// Scheduler.
func NewCond[T any](s *Scheduler) *Cond[T] {
	return &Cond[T]{sched: s, queueMu: irqlock.New(s.hooks)}
}

// Wait releases g, blocks until woken by Signal or Broadcast, then
// re-acquires the associated mutex and returns the new guard. As with any
// Mesa-style condvar, a wakeup is not a promise that the waited-for
// condition now holds; the caller must re-test it.
func (c *Cond[T]) Wait(g *MutexGuard[T]) *MutexGuard[T] {
	m := g.m

	c.queueMu.Lock()
	h := c.sched.BlockCurrentTask()
	c.queue.push(h.tcb.priority, h.tcb)
	c.queueMu.Unlock()

	// The guard is released only after this task is already queued, so a
	// Signal racing with Wait can never be lost: it will either see this
	// task already on the queue, or arrive before the push and simply find
	// nothing to wake (matching Mutex.obtainLock's "push before release").
	g.Unlock()
	c.sched.Reschedule()

	return m.Lock()
}

// Signal wakes at most one waiter, highest priority first.
func (c *Cond[T]) Signal() {
	c.queueMu.Lock()
	next, ok := c.queue.pop()
	c.queueMu.Unlock()
	if ok {
		c.sched.WakeupTask(TaskHandle{tcb: next})
	}
}

// Broadcast wakes every current waiter.
func (c *Cond[T]) Broadcast() {
	for {
		c.queueMu.Lock()
		next, ok := c.queue.pop()
		c.queueMu.Unlock()
		if !ok {
			return
		}
		c.sched.WakeupTask(TaskHandle{tcb: next})
	}
}
