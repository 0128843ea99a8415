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

// Package nativeasm documents the archhook.Hooks contract a bare-metal
// architecture layer must satisfy on real hardware: a hand-written
// assembly Switch that exchanges callee-saved register state between two
// kernel stacks, an IRQ controller driver for IRQDisable/IRQEnable, and a
// physical stack allocator.
//
// None of that is implementable in portable Go — it is explicitly out of
// scope per spec.md §1 ("architecture-specific interrupt controller and IRQ
// masking primitives... the physical stack allocator"), owned by whichever
// team ports the scheduler to a given CPU. This package exists only to give
// the contract a concrete, buildable home; every method panics until an
// architecture owner replaces it with real assembly, following the same
// seam gVisor's ring0 package draws between "the interface the sentry
// kernel depends on" and "the platform-specific implementation of it".
package nativeasm

import (
	"fmt"
	"runtime"

	"github.com/polykernel/sched/pkg/archhook"
)

// Hooks is the unimplemented bare-metal archhook.Hooks. Constructing one
// does not panic; calling any method does, since there is no hardware
// backing it in a portable build.
type Hooks struct{}

// New returns a Hooks value for the host's GOARCH. Embedding the arch name
// in the panic message is the only architecture-awareness this package has.
func New() *Hooks { return &Hooks{} }

func (*Hooks) unimplemented(method string) {
	panic(fmt.Sprintf("nativeasm: %s not implemented for GOARCH=%s; this is the architecture layer's assembly seam, not the scheduler core's", method, runtime.GOARCH))
}

// Switch implements archhook.Hooks.
func (h *Hooks) Switch(oldSPSlot *uintptr, newSP uintptr) { h.unimplemented("Switch") }

// IRQDisable implements archhook.Hooks.
func (h *Hooks) IRQDisable() uintptr { h.unimplemented("IRQDisable"); return 0 }

// IRQEnable implements archhook.Hooks.
func (h *Hooks) IRQEnable(flags uintptr) { h.unimplemented("IRQEnable") }

// ReplaceBootStack implements archhook.Hooks.
func (h *Hooks) ReplaceBootStack(rsp, ist uintptr) { h.unimplemented("ReplaceBootStack") }

// AllocStack implements archhook.Hooks.
func (h *Hooks) AllocStack() (archhook.Stack, archhook.Stack, error) {
	h.unimplemented("AllocStack")
	return archhook.Stack{}, archhook.Stack{}, nil
}

// FreeStack implements archhook.Hooks.
func (h *Hooks) FreeStack(stack, istack archhook.Stack) { h.unimplemented("FreeStack") }

// PrepareEntry implements archhook.Hooks.
func (h *Hooks) PrepareEntry(stack archhook.Stack, entry, onReturn func()) uintptr {
	h.unimplemented("PrepareEntry")
	return 0
}

// Now implements archhook.Hooks.
func (h *Hooks) Now() uint64 { h.unimplemented("Now"); return 0 }
