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

// Package goenv is a pure-Go reference implementation of archhook.Hooks. It
// stands in for a hypervisor/bare-metal target the way gVisor's ptrace and
// systrap platforms stand in for the KVM one: every task is realized as a
// goroutine parked on a channel instead of a raw stack resumed by assembly,
// and "interrupts masked" is realized as a single host mutex instead of a
// real IRQ controller. The tests and the schedsim demo all run on
// this backend; it is never used to drive real hardware.
package goenv

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/polykernel/sched/pkg/archhook"
)

// frame is the goenv realization of a "stack": a parked goroutine plus the
// channel used to resume it. PrepareEntry (and Switch, for a caller with no
// handle yet) hand out a uintptr handle that indexes into Hooks.frames;
// that handle is what the scheduler
// core treats as an opaque saved-SP value.
type frame struct {
	resume chan struct{}
	done   chan struct{}
	region archhook.Stack // host-backed memory, for realism and leak checking
}

// Hooks is the goenv archhook.Hooks implementation.
type Hooks struct {
	irq   sync.Mutex
	owner atomic.Int64 // goroutine id currently holding irq, 0 if none
	depth atomic.Int32

	mu          sync.Mutex
	frames      map[uintptr]*frame
	mmapRegions map[uintptr][]byte
	nextID      uintptr

	start time.Time
}

// New returns a ready-to-use goenv backend.
func New() *Hooks {
	return &Hooks{
		frames: make(map[uintptr]*frame),
		start:  time.Now(),
	}
}

// guardedMmap backs a stack region with two guard pages so a real stack
// overflow segfaults instead of silently corrupting an adjacent region —
// the same technique gVisor's KVM platform uses for guest memory regions,
// scaled down to userspace goroutine stacks we never actually touch (the
// goroutine's own Go-managed stack is what really executes; this region
// exists so AllocStack/FreeStack exercise a real resource with a real
// lifetime, matching the "stack memory is task-private... never touched by
// any other task" invariant in spec.md §5).
const stackSize = 256 * 1024
const pageSize = 4096

func guardedMmap() (archhook.Stack, []byte, error) {
	total := stackSize + 2*pageSize
	b, err := unix.Mmap(-1, 0, total, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return archhook.Stack{}, nil, fmt.Errorf("goenv: mmap stack region: %w", err)
	}
	if err := unix.Mprotect(b[pageSize:pageSize+stackSize], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		_ = unix.Munmap(b)
		return archhook.Stack{}, nil, fmt.Errorf("goenv: mprotect stack region: %w", err)
	}
	usable := b[pageSize : pageSize+stackSize]
	top := uintptr(unsafe.Pointer(&usable[0]))
	return archhook.Stack{Top: top, Bottom: top + stackSize}, b, nil
}

// AllocStack implements archhook.Hooks.
func (h *Hooks) AllocStack() (archhook.Stack, archhook.Stack, error) {
	stack, stackMem, err := guardedMmap()
	if err != nil {
		return archhook.Stack{}, archhook.Stack{}, archhook.ErrOutOfMemory
	}
	istack, istackMem, err := guardedMmap()
	if err != nil {
		_ = unix.Munmap(stackMem)
		return archhook.Stack{}, archhook.Stack{}, archhook.ErrOutOfMemory
	}
	h.mu.Lock()
	h.mmapByTop(stack.Top, stackMem)
	h.mmapByTop(istack.Top, istackMem)
	h.mu.Unlock()
	return stack, istack, nil
}

// mmapByTop records the raw mmap slice backing a region so FreeStack can
// munmap it later; keyed by the region's Top address. Caller holds h.mu.
func (h *Hooks) mmapByTop(top uintptr, mem []byte) {
	if h.mmapRegions == nil {
		h.mmapRegions = make(map[uintptr][]byte)
	}
	h.mmapRegions[top] = mem
}

// FreeStack implements archhook.Hooks.
func (h *Hooks) FreeStack(stack, istack archhook.Stack) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range [2]archhook.Stack{stack, istack} {
		if mem, ok := h.mmapRegions[s.Top]; ok {
			_ = unix.Munmap(mem)
			delete(h.mmapRegions, s.Top)
		}
	}
}

// PrepareEntry implements archhook.Hooks. The "stack frame" is a parked
// goroutine; the returned handle is the key under which Switch finds it.
func (h *Hooks) PrepareEntry(stack archhook.Stack, entry, onReturn func()) uintptr {
	f := &frame{
		resume: make(chan struct{}),
		done:   make(chan struct{}),
		region: stack,
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.frames[id] = f
	h.mu.Unlock()

	go func() {
		<-f.resume // wait for the first Switch that targets this handle
		entry()
		onReturn() // lands in the scheduler's exit path, per spec.md §4.B
		close(f.done)
	}()

	return id
}

// Switch implements archhook.Hooks. oldSPSlot receives the handle the
// calling goroutine should be resumed with; newSP is the handle of the
// frame to resume now. The calling goroutine blocks until some later
// Switch call resumes it by handle.
func (h *Hooks) Switch(oldSPSlot *uintptr, newSP uintptr) {
	h.mu.Lock()
	next, ok := h.frames[newSP]
	h.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("goenv: Switch to unknown frame handle %d", newSP))
	}

	// The caller is a goroutine that is itself either the boot goroutine
	// (first call ever) or a previously-resumed task frame. Either way, we
	// register a fresh resume channel for it under its existing handle (if
	// any) so a future Switch can wake it back up, then hand off to next.
	if *oldSPSlot == 0 {
		// First suspension of this logical task (idle/boot path): mint a
		// handle for the caller lazily so later wakeups have somewhere to
		// park it. Ordinary task switches always have a non-zero handle
		// already assigned by a prior PrepareEntry.
		h.mu.Lock()
		h.nextID++
		id := h.nextID
		self := &frame{resume: make(chan struct{}), done: make(chan struct{})}
		h.frames[id] = self
		h.mu.Unlock()
		*oldSPSlot = id
	}

	self, ok := h.frames[*oldSPSlot]
	if !ok {
		panic("goenv: Switch from a frame handle with no registered parking channel")
	}
	// Re-arm the resume channel before waking next, so a Switch back to
	// *oldSPSlot always finds an open channel, then park until one comes.
	h.mu.Lock()
	self.resume = make(chan struct{})
	rearmed := self.resume
	wake := next.resume
	h.mu.Unlock()

	// A parked goroutine does not hold the simulated CPU: give up the
	// masked-interrupt state while parked so the resumed task can take it,
	// and take it back on resume so the caller's IRQEnable still balances.
	gid := goroutineID()
	held := h.owner.Load() == gid
	depth := h.depth.Load()
	if held {
		h.owner.Store(0)
		h.irq.Unlock()
	}
	close(wake)
	<-rearmed
	if held {
		h.irq.Lock()
		h.owner.Store(gid)
		h.depth.Store(depth)
	}
}

// IRQDisable implements archhook.Hooks. It is the single mechanism that
// makes the goroutine-backed tasks behave like one cooperatively-switched
// CPU: only one goroutine may hold the simulated CPU with interrupts
// masked at a time. Nesting is tracked per holder so a task that disables
// interrupts twice before re-enabling does not deadlock itself.
func (h *Hooks) IRQDisable() uintptr {
	gid := goroutineID()
	if h.owner.Load() == gid {
		h.depth.Add(1)
		return 1 // nested: IRQEnable must not actually release
	}
	h.irq.Lock()
	h.owner.Store(gid)
	h.depth.Store(1)
	return 0 // outermost: IRQEnable must release
}

// IRQEnable implements archhook.Hooks.
func (h *Hooks) IRQEnable(flags uintptr) {
	if flags == 1 {
		h.depth.Add(-1)
		return
	}
	h.depth.Store(0)
	h.owner.Store(0)
	h.irq.Unlock()
}

// ReplaceBootStack implements archhook.Hooks. There is no real boot stack
// to swap in goenv; the call is a documented no-op recording that
// bootstrap happened, matching the precondition that it runs exactly once.
func (h *Hooks) ReplaceBootStack(rsp, ist uintptr) {}

// Now implements archhook.Hooks.
func (h *Hooks) Now() uint64 { return uint64(time.Since(h.start)) }

func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id int64
	for _, b := range buf[len("goroutine "):n] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}
