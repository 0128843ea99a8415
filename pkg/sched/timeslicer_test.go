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
	"testing"
	"time"
)

// TestTimeSlicerPreemptsAtCheckpoint runs the goenv backend with a real
// TimeSlicer ticking in the background while a Low priority task spins in
// a Checkpoint loop and a High priority task is spawned mid-spin. It
// exercises the exact path the ticker goroutine used to break: before the
// fix, TimeSlicer called Reschedule directly from its own goroutine, which
// is not a task goenv's Switch can safely suspend, and the first quantum
// to fire during this test would hang the whole process instead of
// preempting anyone. RequestPreempt/Checkpoint confine every actual
// Reschedule call to a task's own goroutine, so this should instead
// observe the Low task yielding the CPU to High as soon as a quantum
// elapses and Checkpoint next runs.
func TestTimeSlicerPreemptsAtCheckpoint(t *testing.T) {
	s := newTestScheduler(t)
	log := &orderLog{}

	const quantum = time.Millisecond
	slicer := NewTimeSlicer(s, quantum)
	slicer.Start()
	defer slicer.Stop()

	_, err := s.Spawn(func() {
		log.record("low-start")
		if _, err := s.Spawn(func() { log.record("high") }, High); err != nil {
			t.Errorf("spawn high: %v", err)
		}
		// goenv has no way to forcibly suspend this goroutine mid-loop; the
		// ticker only ever raises a flag via RequestPreempt. Sleeping a bit
		// shorter than the quantum on each iteration, for many times the
		// quantum's length in total, gives the ticker many chances to fire
		// and Checkpoint many chances to notice before the loop ends, so
		// the preemption this test exists to exercise actually happens
		// instead of racing the loop to completion.
		for i := 0; i < 200; i++ {
			time.Sleep(quantum / 4)
			s.Checkpoint()
		}
		log.record("low-end")
	}, Low)
	if err != nil {
		t.Fatalf("spawn low: %v", err)
	}

	runWithTimeout(t, 10*time.Second, s.Reschedule)

	got := log.snapshot()
	if len(got) != 3 || got[0] != "low-start" || got[1] != "high" || got[2] != "low-end" {
		t.Fatalf("execution order = %v, want [low-start high low-end]", got)
	}
}

// TestTimeSlicerStopWithNoQuantumElapsed covers the boundary case of
// stopping a TimeSlicer before any tick has fired: Stop must still
// terminate the ticker goroutine cleanly.
func TestTimeSlicerStopWithNoQuantumElapsed(t *testing.T) {
	s := newTestScheduler(t)
	slicer := NewTimeSlicer(s, time.Hour)
	slicer.Start()
	runWithTimeout(t, time.Second, slicer.Stop)
}
