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

// Mutex guards a value of type T with a blocking mutex built entirely out
// of the scheduler's block/wakeup/reschedule primitives: contended callers
// never spin, they park. Unlike Go's sync.Mutex, there is no associated
// goroutine-identity check; the caller is whatever task is Running.
type Mutex[T any] struct {
	sched *Scheduler

	valueMu *irqlock.SpinlockIRQSave
	held    bool

	queueMu *irqlock.SpinlockIRQSave
	queue   priorityTaskQueue

	data T
}

// NewMutex constructs an unlocked Mutex wrapping data.
func NewMutex[T any](s *Scheduler, data T) *Mutex[T] {
	return &Mutex[T]{
		sched:   s,
		valueMu: irqlock.New(s.hooks),
		queueMu: irqlock.New(s.hooks),
		data:    data,
	}
}

// MutexGuard is returned by a successful Lock/TryLock; it must be released
// with Unlock. Go has no destructor to do this automatically the way the
// reference implementation's Drop impl does, so callers are responsible
// for calling Unlock exactly once, typically via defer.
type MutexGuard[T any] struct {
	m *Mutex[T]
}

// Value returns a pointer to the guarded data. Valid only until Unlock.
func (g *MutexGuard[T]) Value() *T { return &g.m.data }

// obtainLock implements the reference mutex's obtain_lock loop: check the
// value lock, and if already held, push onto the wait queue *before*
// releasing the value lock, then reschedule. Pushing before releasing is
// the critical ordering: it closes the window where a concurrent Unlock
// could see an empty queue and fail to wake anyone, a wakeup this task
// would otherwise have missed.
func (m *Mutex[T]) obtainLock() {
	for {
		m.valueMu.Lock()
		if !m.held {
			m.held = true
			m.valueMu.Unlock()
			return
		}

		m.queueMu.Lock()
		h := m.sched.BlockCurrentTask()
		m.queue.push(h.tcb.priority, h.tcb)
		m.queueMu.Unlock()

		m.valueMu.Unlock()
		m.sched.Reschedule()
		// Woken: re-contend from the top rather than assume we now hold
		// the lock (wake but don't hand off).
	}
}

// Lock blocks until the mutex is acquired.
func (m *Mutex[T]) Lock() *MutexGuard[T] {
	m.obtainLock()
	return &MutexGuard[T]{m: m}
}

// TryLock acquires the mutex only if it is immediately free.
func (m *Mutex[T]) TryLock() (*MutexGuard[T], bool) {
	m.valueMu.Lock()
	defer m.valueMu.Unlock()
	if m.held {
		return nil, false
	}
	m.held = true
	return &MutexGuard[T]{m: m}, true
}

// Unlock releases the mutex and, if any task is waiting, wakes the
// highest-priority one. The woken task re-contends for the value lock
// rather than being handed ownership directly.
func (g *MutexGuard[T]) Unlock() {
	m := g.m
	m.valueMu.Lock()
	m.held = false

	m.queueMu.Lock()
	next, ok := m.queue.pop()
	m.queueMu.Unlock()

	m.valueMu.Unlock()

	if ok {
		m.sched.WakeupTask(TaskHandle{tcb: next})
	}
}
