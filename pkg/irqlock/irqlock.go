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

// Package irqlock implements a test-and-set spinlock that additionally
// disables interrupts for the duration of its critical section, for use by
// the scheduler's own queues, which are touched from both task and
// interrupt context.
package irqlock

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Hooks is the minimal interrupt-gating contract SpinlockIRQSave needs.
// archhook.Hooks satisfies this structurally; irqlock does not import
// archhook to keep this package usable standalone.
type Hooks interface {
	IRQDisable() (flags uintptr)
	IRQEnable(flags uintptr)
}

// SpinlockIRQSave is a non-recursive IRQ-safe spinlock. The contract is
// explicitly non-recursive: re-acquiring from the same logical caller
// without releasing first deadlocks on real hardware. Debug builds
// (built with -tags sched_debug) panic instead of deadlocking.
type SpinlockIRQSave struct {
	hooks Hooks
	state atomic.Bool // false = unlocked, true = locked
	flags uintptr     // valid only while held; written once by the holder

	dbg debugState // zero-cost unless built with sched_debug
}

// New constructs a spinlock gated by the given interrupt hooks.
func New(hooks Hooks) *SpinlockIRQSave {
	return &SpinlockIRQSave{hooks: hooks}
}

// Lock disables interrupts and spins until the lock is acquired.
func (l *SpinlockIRQSave) Lock() {
	flags := l.hooks.IRQDisable()
	l.dbg.onAcquireAttempt(l)

	if l.state.CompareAndSwap(false, true) {
		l.flags = flags
		l.dbg.onAcquire(l)
		return
	}

	// Contended: spin with bounded backoff. On real hardware this would be
	// a tight PAUSE-instruction spin (no sleeping permitted with interrupts
	// masked); the reference/test backend can afford to actually yield.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Microsecond
	bo.MaxInterval = 200 * time.Microsecond
	bo.MaxElapsedTime = 0 // never gives up; a spinlock has no deadline
	for !l.state.CompareAndSwap(false, true) {
		time.Sleep(bo.NextBackOff())
	}
	l.flags = flags
	l.dbg.onAcquire(l)
}

// Unlock releases the lock and restores the prior interrupt-enable state.
func (l *SpinlockIRQSave) Unlock() {
	flags := l.flags
	l.dbg.onRelease(l)
	l.state.Store(false)
	l.hooks.IRQEnable(flags)
}
