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

//go:build sched_debug

package irqlock

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// debugState tracks the holder of a spinlock when built with -tags
// sched_debug, so a re-entrant acquire panics instead of deadlocking
// silently. Production (bare-metal) builds omit this entirely.
type debugState struct {
	holder atomic.Int64
}

func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id int64
	// Format is "goroutine <id> [...]"; skip the "goroutine " prefix.
	for _, b := range buf[len("goroutine "):n] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}

func (d *debugState) onAcquireAttempt(l *SpinlockIRQSave) {
	gid := currentGoroutineID()
	if d.holder.Load() == gid {
		panic(fmt.Sprintf("irqlock: non-recursive spinlock re-acquired by goroutine %d", gid))
	}
}

func (d *debugState) onAcquire(l *SpinlockIRQSave) {
	d.holder.Store(currentGoroutineID())
}

func (d *debugState) onRelease(l *SpinlockIRQSave) {
	d.holder.Store(0)
}
