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

// Semaphore is a counting semaphore built the same way Mutex is: blocked
// acquirers park on a priority wait queue instead of spinning, and a
// release wakes as many waiters as it has units to hand out. Like Mutex,
// a woken waiter re-checks the count rather than assuming it now holds
// the units it was waiting for.
type Semaphore struct {
	sched *Scheduler

	valueMu *irqlock.SpinlockIRQSave
	count   int

	queueMu *irqlock.SpinlockIRQSave
	queue   priorityTaskQueue
}

// NewSemaphore constructs a Semaphore with the given initial count.
func NewSemaphore(s *Scheduler, initial int) *Semaphore {
	return &Semaphore{
		sched:   s,
		valueMu: irqlock.New(s.hooks),
		queueMu: irqlock.New(s.hooks),
		count:   initial,
	}
}

// Acquire blocks until n units are available, then takes them.
func (sem *Semaphore) Acquire(n int) {
	for {
		sem.valueMu.Lock()
		if sem.count >= n {
			sem.count -= n
			sem.valueMu.Unlock()
			return
		}

		sem.queueMu.Lock()
		h := sem.sched.BlockCurrentTask()
		sem.queue.push(h.tcb.priority, h.tcb)
		sem.queueMu.Unlock()

		sem.valueMu.Unlock()
		sem.sched.Reschedule()
	}
}

// TryAcquire takes n units only if they are immediately available.
func (sem *Semaphore) TryAcquire(n int) bool {
	sem.valueMu.Lock()
	defer sem.valueMu.Unlock()
	if sem.count < n {
		return false
	}
	sem.count -= n
	return true
}

// Release returns n units and wakes up to n waiters (one per unit
// released), highest priority first. Waking more waiters than there are
// units to satisfy every one of them individually is intentional: each
// woken waiter re-checks the count itself, exactly like Mutex's "wake but
// don't hand off" contract.
func (sem *Semaphore) Release(n int) {
	sem.valueMu.Lock()
	sem.count += n

	var woken []*tcb
	for len(woken) < n {
		sem.queueMu.Lock()
		next, ok := sem.queue.pop()
		sem.queueMu.Unlock()
		if !ok {
			break
		}
		woken = append(woken, next)
	}
	sem.valueMu.Unlock()

	for _, t := range woken {
		sem.sched.WakeupTask(TaskHandle{tcb: t})
	}
}
