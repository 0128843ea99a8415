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

// Scenario 7: when a unit becomes available, Release wakes the
// highest-priority blocked waiter first, regardless of how long a lower
// priority waiter has been blocked.
func TestSemaphoreReleaseWakesHighestPriorityFirst(t *testing.T) {
	s := newTestScheduler(t)
	sem := NewSemaphore(s, 1)
	log := &orderLog{}

	const waiters = 2

	_, err := s.Spawn(func() {
		sem.Acquire(1) // succeeds immediately; capacity is now exhausted
		log.record("holder-acquired")

		_, err := s.Spawn(func() {
			log.record("high-before")
			sem.Acquire(1)
			log.record("high-acquired")
			sem.Release(1)
		}, High)
		if err != nil {
			t.Errorf("spawn high: %v", err)
		}
		_, err = s.Spawn(func() {
			log.record("low-before")
			sem.Acquire(1)
			log.record("low-acquired")
			sem.Release(1)
		}, Low)
		if err != nil {
			t.Errorf("spawn low: %v", err)
		}

		// Hand off once per waiter: each one runs up to its blocking
		// Acquire call and parks, returning control here.
		for i := 0; i < waiters; i++ {
			s.Yield()
		}

		log.record("holder-release")
		sem.Release(1) // only a unit for one waiter; the higher priority wins
	}, Normal)
	if err != nil {
		t.Fatalf("spawn holder: %v", err)
	}

	runWithTimeout(t, 2*time.Second, s.Reschedule)

	got := log.snapshot()
	highIdx, lowIdx := -1, -1
	for i, e := range got {
		switch e {
		case "high-acquired":
			highIdx = i
		case "low-acquired":
			lowIdx = i
		}
	}
	if highIdx == -1 || lowIdx == -1 {
		t.Fatalf("execution order = %v, missing an acquire record", got)
	}
	if highIdx > lowIdx {
		t.Fatalf("execution order = %v, want high-acquired before low-acquired", got)
	}
}

// TryAcquire must not block and must report failure when insufficient
// units are available.
func TestSemaphoreTryAcquire(t *testing.T) {
	s := newTestScheduler(t)
	sem := NewSemaphore(s, 1)

	if !sem.TryAcquire(1) {
		t.Fatalf("TryAcquire(1) failed on a fresh semaphore")
	}
	if sem.TryAcquire(1) {
		t.Fatalf("TryAcquire(1) succeeded with no units available")
	}
	sem.Release(1)
	if !sem.TryAcquire(1) {
		t.Fatalf("TryAcquire(1) failed after Release")
	}
}
