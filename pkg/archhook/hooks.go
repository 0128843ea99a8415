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

// Package archhook declares the narrow contract the scheduler core consumes
// from the architecture layer: a stack-swap primitive, interrupt gating, the
// boot-stack replacement hook, and a stack region allocator. The core never
// imports a concrete implementation of this package directly; it is handed
// one at construction time, the same way gVisor's sentry kernel is handed a
// platform.Platform rather than importing ring0/KVM by name.
package archhook

import "errors"

// ErrOutOfMemory is returned by AllocStack when no stack region is
// available. It is a typed failure, not a panic: spec.md leaves spawn-path
// OOM unhandled ("the reference source does not handle this"); this
// repository resolves that open question by surfacing it to the caller.
var ErrOutOfMemory = errors.New("archhook: no stack region available")

// Stack describes a contiguous, aligned stack region with a known bottom
// (initial stack pointer) address. Top is the lowest address of the region;
// Bottom is the highest, i.e. the initial SP for a stack that grows down.
type Stack struct {
	Bottom uintptr
	Top    uintptr
}

// Hooks is the full set of primitives the scheduler core requires from its
// host environment. Exactly one implementation is live per process; it is
// supplied to sched.New at construction and never swapped out
// (spec.md's "global singleton... permanent" lifecycle).
type Hooks interface {
	// Switch saves the currently-executing task's callee-saved registers
	// and flags onto its own stack, writes the resulting stack pointer to
	// *oldSPSlot, then loads the stack pointer newSP and resumes execution
	// there. It returns only when some other call to Switch later selects
	// the calling task to run again.
	//
	// oldSPSlot must be the address of the SUSPENDING task's own saved-SP
	// slot, never the slot of the task being resumed; confusing the two
	// corrupts both tasks' resume points.
	Switch(oldSPSlot *uintptr, newSP uintptr)

	// IRQDisable masks interrupt delivery on the calling CPU and returns an
	// opaque token describing the prior enable state.
	IRQDisable() (flags uintptr)

	// IRQEnable restores the interrupt-enable state described by flags, as
	// returned by a matching IRQDisable.
	IRQEnable(flags uintptr)

	// ReplaceBootStack switches the executing CPU's stack pointers to the
	// given regions. Called exactly once, during idle-task bootstrap,
	// before any other hook or scheduler call.
	ReplaceBootStack(rsp, ist uintptr)

	// AllocStack returns a freshly allocated, aligned stack pair (the task's
	// main stack and its separate interrupt stack). It returns
	// ErrOutOfMemory, not a panic, when no region is available.
	AllocStack() (stack, istack Stack, err error)

	// FreeStack returns a stack pair obtained from AllocStack. Called only
	// by deferred cleanup, never by the task that owns the stack.
	FreeStack(stack, istack Stack)

	// PrepareEntry is the create_stack_frame hook: given a stack region and
	// an entry function, it prepares the stack so that the first Switch
	// targeting the returned stack pointer lands inside entry, with a
	// return chain that lands in onReturn if entry ever returns normally.
	// It is called both for a fresh task and, per the TCB reuse rule, again
	// for a Finished task's TCB being repurposed by a new spawn — the stack
	// region itself is retained across calls.
	PrepareEntry(stack Stack, entry func(), onReturn func()) (initialSP uintptr)

	// Now returns a monotonically increasing nanosecond count. Nothing in
	// pkg/sched reads it: the scheduler core never reads the clock, and
	// sched.TimeSlicer ticks off its own host timer.
	Now() uint64
}
