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

import (
	"container/list"
	"fmt"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/polykernel/sched/internal/ktrace"
	"github.com/polykernel/sched/pkg/archhook"
	"github.com/polykernel/sched/pkg/irqlock"
)

type taskEntry struct {
	id  TaskId
	tcb *tcb
}

func taskEntryLess(a, b taskEntry) bool { return a.id < b.id }

// Scheduler is the single per-CPU scheduler instance. It owns every task's
// TCB, the ready queue, the finished-but-not-yet-reclaimed list, and the
// ordered id -> TCB directory that Spawn's reuse search and PriorityOf
// read from.
type Scheduler struct {
	hooks archhook.Hooks
	log   *ktrace.Logger

	readyMu *irqlock.SpinlockIRQSave
	ready   priorityTaskQueue

	finishedMu *irqlock.SpinlockIRQSave
	finished   list.List // of TaskId, oldest-first

	tasksMu *irqlock.SpinlockIRQSave
	tasks   *btree.BTreeG[taskEntry]

	nextID atomic.Uint64
	count  atomic.Int64

	current atomic.Pointer[tcb]
	idle    atomic.Pointer[tcb]

	preemptPending atomic.Bool

	cleanupBudget int
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithCleanupBudget bounds how many Finished tasks Reschedule reclaims per
// call. The reference implementation reclaims exactly one; raising this
// trades worst-case Reschedule latency for faster drain of a backlog of
// exited tasks.
func WithCleanupBudget(n int) Option {
	return func(s *Scheduler) { s.cleanupBudget = n }
}

// New constructs a Scheduler driven by the given hooks. AddIdleTask must
// be called once before Spawn/Reschedule are used.
func New(hooks archhook.Hooks, opts ...Option) *Scheduler {
	s := &Scheduler{
		hooks:         hooks,
		log:           ktrace.New("sched"),
		readyMu:       irqlock.New(hooks),
		finishedMu:    irqlock.New(hooks),
		tasksMu:       irqlock.New(hooks),
		tasks:         btree.NewG(32, taskEntryLess),
		cleanupBudget: 1,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) tasksGetLocked(id TaskId) (*tcb, bool) {
	e, ok := s.tasks.Get(taskEntry{id: id})
	if !ok {
		return nil, false
	}
	return e.tcb, true
}

func (s *Scheduler) tasksSetLocked(id TaskId, t *tcb) {
	s.tasks.ReplaceOrInsert(taskEntry{id: id, tcb: t})
}

func (s *Scheduler) tasksDeleteLocked(id TaskId) {
	s.tasks.Delete(taskEntry{id: id})
}

// allocID returns an id not currently occupied in the tasks directory,
// mirroring the reference get_tid's "keep trying the counter until it
// lands on a free slot" approach. TaskId 0 is handed out exactly once, to
// the idle task, during AddIdleTask.
func (s *Scheduler) allocID() TaskId {
	for {
		id := TaskId(s.nextID.Add(1) - 1)
		s.tasksMu.Lock()
		_, exists := s.tasksGetLocked(id)
		s.tasksMu.Unlock()
		if !exists {
			return id
		}
	}
}

func (s *Scheduler) panicInvariant(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	cur := s.current.Load()
	if cur != nil {
		s.log.Errorf("invariant violated: %s (current=%d status=%s)", msg, cur.id, cur.status)
	} else {
		s.log.Errorf("invariant violated: %s (current=<none>)", msg)
	}
	panic("sched: " + msg)
}

// AddIdleTask installs the idle task, which owns the stack the scheduler
// was entered on. It must be called exactly once, before any Spawn.
//
// Unlike a user task, the idle task is never produced by PrepareEntry: its
// stack is whatever the caller was already running on. goenv has no real
// boot stack to hand back, so it stands one up via AllocStack as a
// reference-backend simplification; a bare-metal hooks implementation
// would instead describe the linker-provided boot stack directly.
func (s *Scheduler) AddIdleTask() {
	id := s.allocID()
	idle := newTCB(id, Idle, Low)

	stack, istack, err := s.hooks.AllocStack()
	if err != nil {
		s.panicInvariant("add idle task: no boot stack available: %v", err)
	}
	idle.stack, idle.istack = stack, istack
	s.hooks.ReplaceBootStack(stack.Bottom, istack.Bottom)

	s.current.Store(idle)
	s.idle.Store(idle)

	s.tasksMu.Lock()
	s.tasksSetLocked(id, idle)
	s.tasksMu.Unlock()

	s.log.Infof("idle task %d initialized", id)
}

// Spawn creates a new Ready task running entry at the given priority and
// returns its id. If a previously Finished TCB is available it is reused
// in place, per the TCB reuse rule; otherwise a fresh TCB and stack are
// allocated.
func (s *Scheduler) Spawn(entry func(), prio Priority) (TaskId, error) {
	var reusedID TaskId
	var reused bool

	s.finishedMu.Lock()
	if el := s.finished.Front(); el != nil {
		reusedID = el.Value.(TaskId)
		s.finished.Remove(el)
		reused = true
	}
	s.finishedMu.Unlock()

	var t *tcb
	var id TaskId

	if reused {
		id = reusedID
		s.tasksMu.Lock()
		found, ok := s.tasksGetLocked(id)
		if !ok {
			s.tasksMu.Unlock()
			s.panicInvariant("finished task %d missing from tasks directory", id)
		}
		t = found
		t.status = Ready
		t.priority = prio
		t.savedSP = 0
		t.createStackFrame(s.hooks, entry, func() { s.taskReturnTrampoline(t) })
		s.tasksMu.Unlock()
		s.log.Debugf("reuse existing task control block %d", id)
	} else {
		id = s.allocID()
		stack, istack, err := s.hooks.AllocStack()
		if err != nil {
			return 0, fmt.Errorf("sched: spawn task: %w", err)
		}
		t = newTCB(id, Ready, prio)
		t.stack, t.istack = stack, istack
		t.createStackFrame(s.hooks, entry, func() { s.taskReturnTrampoline(t) })

		s.tasksMu.Lock()
		s.tasksSetLocked(id, t)
		s.tasksMu.Unlock()
		s.log.Debugf("create new task control block %d", id)
	}

	s.readyMu.Lock()
	s.ready.push(prio, t)
	s.readyMu.Unlock()

	s.count.Add(1)
	s.log.Infof("create task with id %d priority %s", id, prio)
	return id, nil
}

// taskReturnTrampoline is the onReturn hook every spawned task's stack
// frame is built with: if entry returns normally instead of calling Exit
// itself, control lands here, per the contract that a returning entry
// function is equivalent to exit().
func (s *Scheduler) taskReturnTrampoline(t *tcb) {
	s.log.Debugf("task %d entry function returned; treating as exit", t.id)
	s.exitCurrent(false)
}

// Exit terminates the calling task normally. It does not return.
func (s *Scheduler) Exit() { s.exitCurrent(false) }

// Abort terminates the calling task after a fault. It does not return.
func (s *Scheduler) Abort() { s.exitCurrent(true) }

func (s *Scheduler) exitCurrent(aborted bool) {
	cur := s.current.Load()
	if cur == s.idle.Load() {
		s.panicInvariant("unable to terminate idle task")
	}
	cur.status = Finished
	s.count.Add(-1)
	if aborted {
		s.log.Warningf("abort task with id %d", cur.id)
	} else {
		s.log.Infof("finish task with id %d", cur.id)
	}
	s.Reschedule()
	// Unreachable: Reschedule switches away from a Finished current task
	// and never switches back to it.
	panic("sched: exit failed to switch away")
}

// BlockCurrentTask marks the calling task Blocked and returns a handle a
// synchronization primitive can later pass to WakeupTask. It does not
// itself touch any queue or disable interrupts: the caller is expected to
// already hold whatever IRQ-safe lock guards its own wait queue, and to
// push the returned handle onto that queue before releasing the lock that
// guards the condition being waited on (see pkg/sched's Mutex for the
// canonical ordering).
func (s *Scheduler) BlockCurrentTask() TaskHandle {
	cur := s.current.Load()
	if cur.status != Running {
		s.panicInvariant("unable to block task %d in state %s", cur.id, cur.status)
	}
	cur.status = Blocked
	s.log.Debugf("block task %d", cur.id)
	return TaskHandle{tcb: cur}
}

// WakeupTask moves a Blocked task back to Ready and onto the ready queue.
// It is idempotent: waking a task that is not Blocked (already woken, or
// raced by a second waker) is a no-op, matching the "wake but don't hand
// off" design where a woken task must re-contend for whatever it was
// waiting on.
func (s *Scheduler) WakeupTask(h TaskHandle) {
	t := h.tcb
	if t.status != Blocked {
		return
	}
	t.status = Ready
	s.log.Debugf("wakeup task %d", t.id)
	s.readyMu.Lock()
	s.ready.push(t.priority, t)
	s.readyMu.Unlock()
}

// CurrentTaskID returns the id of the calling task.
func (s *Scheduler) CurrentTaskID() TaskId { return s.current.Load().id }

// CurrentPriority returns the priority of the calling task.
func (s *Scheduler) CurrentPriority() Priority { return s.current.Load().priority }

// PriorityOf looks up the priority of any live task by id.
func (s *Scheduler) PriorityOf(id TaskId) Priority {
	s.tasksMu.Lock()
	t, ok := s.tasksGetLocked(id)
	s.tasksMu.Unlock()
	if !ok {
		s.log.Infof("didn't find task %d", id)
		return Normal
	}
	return t.priority
}

// NumberOfTasks returns the number of tasks that are not Finished/Invalid.
func (s *Scheduler) NumberOfTasks() int { return int(s.count.Load()) }

// getNextTask picks the task to run next: the highest-priority Ready task
// that outranks the current task (if it is still Running and therefore
// eligible to keep the CPU), or the idle task if nothing else is eligible
// and current is not itself runnable. noFloor drops the "strictly higher
// priority" requirement, picking the highest-priority ready task
// regardless of how the current task compares to it; Yield uses this to
// express an unconditional cooperative hand-off.
func (s *Scheduler) getNextTask(noFloor bool) (*tcb, bool) {
	cur := s.current.Load()

	s.readyMu.Lock()
	var next *tcb
	var ok bool
	if cur.status == Running && !noFloor {
		// Current still wants the CPU: only a strictly higher priority
		// task may take it. This is what lets a Running task survive
		// repeated timer-driven Reschedule calls without being bounced by
		// equal-priority peers; same-priority rotation instead goes
		// through Yield or through blocking on a sync primitive.
		next, ok = s.ready.popWithPrio(cur.priority)
	} else {
		// Current gave up the CPU (blocked/finished), never had a claim on
		// it (idle), or is explicitly yielding: the highest-priority ready
		// task, even a Low one or one at the same priority, is eligible.
		next, ok = s.ready.pop()
	}
	s.readyMu.Unlock()
	if ok {
		next.status = Running
		return next, true
	}

	if cur.status != Running && cur.status != Idle {
		// idle is handed the CPU but never transitions out of Idle: unlike a
		// normal ready-queue task, it is not popped from anywhere and has no
		// priority a floor could sensibly apply to. Leaving its status as
		// Idle (matching the reference get_next_task, which never writes
		// TaskRunning into the idle TCB) is what lets a Low-priority task
		// spawned after idle has run keep preempting it indefinitely: the
		// cur.status == Running check above only ever applies the strict
		// floor to a real task, never to idle.
		return s.idle.Load(), true
	}
	return nil, false
}

// schedule performs at most one context switch: it requeues or retires
// the current task according to its status, then switches the CPU to
// whatever getNextTask picked. If nothing is eligible to preempt the
// current task, it returns without switching.
func (s *Scheduler) schedule(noFloor bool) {
	next, ok := s.getNextTask(noFloor)
	if !ok {
		return
	}

	old := s.current.Load()
	if old == next {
		return
	}

	switch old.status {
	case Running:
		// Never idle: idle's status is always Idle, not Running (see
		// getNextTask), so this is always a normal task giving up the CPU
		// and going back on the ready queue.
		old.status = Ready
		s.readyMu.Lock()
		s.ready.push(old.priority, old)
		s.readyMu.Unlock()
	case Finished:
		old.status = Invalid
		s.finishedMu.Lock()
		s.finished.PushBack(old.id)
		s.finishedMu.Unlock()
	}

	s.log.Debugf("switch task from %d to %d", old.id, next.id)
	s.current.Store(next)
	s.hooks.Switch(&old.savedSP, next.savedSP)
}

// cleanupTasks reclaims up to cleanupBudget Finished tasks: it frees their
// stack memory via the hooks and drops them from the tasks directory,
// making their ids eligible for Spawn reuse. This is the second half of
// the two-phase destruction protocol: schedule() only ever demotes
// Finished -> Invalid and defers the actual free to here, because a task
// can never free the stack it is still running on.
func (s *Scheduler) cleanupTasks() {
	for i := 0; i < s.cleanupBudget; i++ {
		s.finishedMu.Lock()
		el := s.finished.Front()
		var id TaskId
		if el != nil {
			id = el.Value.(TaskId)
			s.finished.Remove(el)
		}
		s.finishedMu.Unlock()
		if el == nil {
			return
		}

		s.tasksMu.Lock()
		t, ok := s.tasksGetLocked(id)
		if ok {
			s.tasksDeleteLocked(id)
		}
		s.tasksMu.Unlock()
		if !ok {
			s.log.Infof("unable to drop task %d: already reclaimed", id)
			continue
		}
		s.hooks.FreeStack(t.stack, t.istack)
		s.log.Debugf("reclaimed task %d", id)
	}
}

// Reschedule reclaims pending Finished tasks and, if a strictly
// higher-priority task is ready (or the current task is no longer
// runnable), switches the CPU away from the caller. It is what task code,
// synchronization primitives, and Checkpoint (on TimeSlicer's behalf) all
// call through; a Running task at the same priority as every ready peer keeps
// the CPU, per the dispatch policy's "preempt only by strictly higher
// priority" rule.
func (s *Scheduler) Reschedule() {
	s.cleanupTasks()
	flags := s.hooks.IRQDisable()
	s.schedule(false)
	s.hooks.IRQEnable(flags)
}

// Yield unconditionally gives up the CPU to the highest-priority ready
// task, including one at the caller's own priority; if nothing is ready
// it is a no-op and the caller keeps running. This is how equal-priority
// cooperative round robin is expressed: Reschedule's strict floor exists
// so a timer tick cannot bounce a Running task to an equal-priority peer,
// so a task that explicitly wants to let its peers take a turn calls
// Yield instead.
func (s *Scheduler) Yield() {
	s.cleanupTasks()
	flags := s.hooks.IRQDisable()
	s.schedule(true)
	s.hooks.IRQEnable(flags)
}

// RequestPreempt latches a pending timer-driven preemption, to be consumed
// by the next call to Checkpoint. It is safe to call from any goroutine,
// including one that is not itself a scheduled task: unlike Reschedule, it
// never touches the ready queue or calls into archhook.Hooks.Switch, so it
// carries none of the task-identity assumptions those do. TimeSlicer is
// this method's only caller.
func (s *Scheduler) RequestPreempt() { s.preemptPending.Store(true) }

// Checkpoint is the cooperative preemption point a Running task (or the
// code driving it, such as a loop in the demo workload) calls periodically
// to give a pending timer-driven preemption somewhere safe to land. If
// TimeSlicer has marked a quantum as expired since the last Checkpoint, this
// clears the mark and calls Reschedule on behalf of the caller; otherwise it
// is a no-op.
//
// This indirection exists because archhook.Hooks.Switch suspends whichever
// goroutine calls it, on the assumption that the caller *is* the task being
// suspended. TimeSlicer's ticker runs on its own goroutine, which was never
// Spawned and has no savedSP slot of its own, so it must never call
// Reschedule (and therefore Switch) directly — doing so would park the
// ticker's goroutine in place of the task actually being preempted, and the
// preempted task's own goroutine would simply keep running unsuspended.
// Checkpoint is the one safe place the flag TimeSlicer raises gets turned
// into a real Reschedule call, because Checkpoint is only ever invoked by a
// task from inside its own execution context.
func (s *Scheduler) Checkpoint() {
	if s.preemptPending.CompareAndSwap(true, false) {
		s.Reschedule()
	}
}
