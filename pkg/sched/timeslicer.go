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

import "time"

// TimeSlicer drives preemption: on a fixed period it raises a pending
// preemption that the next Checkpoint call consumes, which is what turns
// the otherwise purely cooperative scheduler preemptive. On real hardware
// this period would come from a timer IRQ landing directly on whatever the
// CPU happens to be running; the goenv backend has no interrupt controller
// to program, only a ticking goroutine, and that goroutine is not itself a
// scheduled task — it has no savedSP slot and is never Scheduler.current,
// so it must never call Reschedule (and, transitively, archhook.Hooks.
// Switch) on a task's behalf. It only ever calls Scheduler.RequestPreempt,
// which does nothing but set a flag; Checkpoint, called by task code from
// its own goroutine, is what turns that flag into an actual reschedule.
type TimeSlicer struct {
	sched   *Scheduler
	quantum time.Duration
	stop    chan struct{}
	stopped chan struct{}
}

// NewTimeSlicer constructs a TimeSlicer that raises a pending preemption
// every quantum.
func NewTimeSlicer(s *Scheduler, quantum time.Duration) *TimeSlicer {
	return &TimeSlicer{
		sched:   s,
		quantum: quantum,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins ticking in the background. Start must be called at most
// once per TimeSlicer. Preemption only actually takes effect at a task's
// next call to Checkpoint (or to any call that itself reschedules, such as
// blocking on a Mutex): a task that never reaches one of those points runs
// to completion regardless of how many quanta elapse, which is the
// cooperative half of the cooperative-plus-preemptive design when running
// on a backend, like goenv, with no way to forcibly suspend a goroutine
// that isn't cooperating.
func (ts *TimeSlicer) Start() {
	go func() {
		defer close(ts.stopped)
		t := time.NewTicker(ts.quantum)
		defer t.Stop()
		for {
			select {
			case <-ts.stop:
				return
			case <-t.C:
				ts.sched.RequestPreempt()
			}
		}
	}()
}

// Stop halts ticking and waits for the background goroutine to exit.
func (ts *TimeSlicer) Stop() {
	close(ts.stop)
	<-ts.stopped
}
