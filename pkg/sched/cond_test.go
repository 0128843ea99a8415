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

// Scenario 8: a consumer that parks on Wait before the predicate becomes
// true must still be woken once Signal arrives; the wakeup must not be
// lost even though the guard is released and the task is queued as two
// separate steps.
func TestCondWaitSignal(t *testing.T) {
	s := newTestScheduler(t)
	mu := NewMutex(s, false)
	cond := NewCond[bool](s)
	log := &orderLog{}

	_, err := s.Spawn(func() {
		g := mu.Lock()
		for !*g.Value() {
			log.record("consumer-wait")
			g = cond.Wait(g)
		}
		log.record("consumer-done")
		g.Unlock()
	}, Normal)
	if err != nil {
		t.Fatalf("spawn consumer: %v", err)
	}

	_, err = s.Spawn(func() {
		log.record("producer-start")
		g := mu.Lock()
		*g.Value() = true
		g.Unlock()
		cond.Signal()
		log.record("producer-signaled")
	}, Normal)
	if err != nil {
		t.Fatalf("spawn producer: %v", err)
	}

	runWithTimeout(t, 2*time.Second, s.Reschedule)

	got := log.snapshot()
	want := []string{"consumer-wait", "producer-start", "producer-signaled", "consumer-done"}
	if len(got) != len(want) {
		t.Fatalf("execution order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
}

// Broadcast must wake every waiter parked on the condition, not just one.
func TestCondBroadcast(t *testing.T) {
	s := newTestScheduler(t)
	mu := NewMutex(s, false)
	cond := NewCond[bool](s)
	log := &orderLog{}

	const waiters = 3
	for i := 0; i < waiters; i++ {
		name := string(rune('a' + i))
		_, err := s.Spawn(func() {
			g := mu.Lock()
			for !*g.Value() {
				g = cond.Wait(g)
			}
			log.record("woke-" + name)
			g.Unlock()
		}, Normal)
		if err != nil {
			t.Fatalf("spawn waiter %s: %v", name, err)
		}
	}

	_, err := s.Spawn(func() {
		g := mu.Lock()
		*g.Value() = true
		g.Unlock()
		cond.Broadcast()
	}, Normal)
	if err != nil {
		t.Fatalf("spawn broadcaster: %v", err)
	}

	runWithTimeout(t, 2*time.Second, s.Reschedule)

	got := log.snapshot()
	if len(got) != waiters {
		t.Fatalf("woke %d waiters, want %d (got %v)", len(got), waiters, got)
	}
}
