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

// Package sched is a cooperative-plus-preemptive priority task scheduler:
// it multiplexes a fixed CPU among kernel-mode tasks, each with its own
// stack, switching between them through the archhook.Hooks stack-swap
// primitive, and exposes the block/wakeup contract that Mutex, Semaphore
// and Cond compose from.
package sched

import "github.com/polykernel/sched/pkg/archhook"

// TaskId is an opaque, monotonically assigned identifier. It is never
// reused while the owning task control block is live, and may be reused
// only after the scheduler has fully reclaimed that TCB.
type TaskId uint64

// Priority is a small integer; higher numeric value is higher priority.
// Ordering is total; ties are broken FIFO within a level.
type Priority int

// Fixed priority levels, per spec.
const (
	Low Priority = iota
	Normal
	High

	numPriorities = int(High) + 1
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	default:
		return "priority(?)"
	}
}

// Status is a task's position in the scheduler's state machine.
type Status int

const (
	// Invalid: slot released, TCB about to be freed.
	Invalid Status = iota
	// Ready: in a ready queue, eligible to run.
	Ready
	// Running: currently executing on the CPU.
	Running
	// Blocked: waiting on some sync object's queue.
	Blocked
	// Finished: exited; awaiting deferred reclaim.
	Finished
	// Idle: reserved status of the single idle TCB.
	Idle
)

func (s Status) String() string {
	switch s {
	case Invalid:
		return "invalid"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Finished:
		return "finished"
	case Idle:
		return "idle"
	default:
		return "status(?)"
	}
}

// tcb is the task control block. The scheduler is its exclusive owner;
// external code only ever holds a TaskId or, for the narrow block/wakeup
// contract, a TaskHandle. Unlike the reference implementation (which
// encodes the TCB as an unchecked bare pointer because the scheduler
// outlives every reference), Go's garbage collector keeps a *tcb alive for
// as long as it is reachable from a queue or the tasks directory, so the
// lifetime hazard the reference implementation's design notes call out
// does not apply to the struct itself — only to the external stack memory
// it describes, which is why FreeStack still goes through the deferred
// Finished -> Invalid -> reclaim protocol below.
type tcb struct {
	id       TaskId
	status   Status
	priority Priority

	stack  archhook.Stack
	istack archhook.Stack

	// savedSP is the in-stack location switch resumes from. It is mutated
	// only by archhook.Hooks.Switch (on suspend) and by createStackFrame
	// (on spawn/reuse). It is zero only for the idle task before its first
	// suspension; createStackFrame sets it for every spawned task.
	savedSP uintptr

	// tcb carries no intrusive queue links; priorityTaskQueue uses
	// container/list nodes instead, keeping tcb free of queue-membership
	// bookkeeping so the same *tcb can never be accidentally left linked
	// into two queues (invariant 4: a TCB is in at most one queue at any
	// time).
}

func newTCB(id TaskId, status Status, prio Priority) *tcb {
	return &tcb{id: id, status: status, priority: prio}
}

// createStackFrame prepares the task's stack so the first Switch to
// savedSP lands inside entry, with a return chain that calls onReturn
// (the scheduler's exit path) if entry ever returns normally. Per the TCB
// reuse rule, this is called again — on the same stack region — when a
// Finished TCB is repurposed for a new spawn.
func (t *tcb) createStackFrame(hooks archhook.Hooks, entry, onReturn func()) {
	t.savedSP = hooks.PrepareEntry(t.stack, entry, onReturn)
}

// TaskHandle is the narrow, opaque reference a synchronization primitive
// uses to push a blocked task onto its own wait queue and later wake it
// up, without depending on any scheduler internals beyond
// BlockCurrentTask/WakeupTask/Reschedule. This is how the
// mutex-to-scheduler-to-mutex reference cycle the design notes warn about
// is avoided: Mutex, Semaphore and Cond never see a *Scheduler field
// beyond those three calls.
type TaskHandle struct {
	tcb *tcb
}

// TaskId returns the id of the task this handle refers to.
func (h TaskHandle) TaskId() TaskId { return h.tcb.id }
