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

package irqlock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/polykernel/sched/pkg/archhook/goenv"
	"github.com/polykernel/sched/pkg/irqlock"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	hooks := goenv.New()
	l := irqlock.New(hooks)

	const goroutines = 8
	const perGoroutine = 200

	counter := 0
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for goroutines to finish")
	}

	if want := goroutines * perGoroutine; counter != want {
		t.Fatalf("counter = %d, want %d", counter, want)
	}
}

func TestSpinlockLockUnlockRestoresInterruptState(t *testing.T) {
	hooks := goenv.New()
	l := irqlock.New(hooks)

	// After Lock/Unlock, interrupts must be enabled again: a second,
	// unrelated Lock/Unlock pair on another goroutine must not block.
	l.Lock()
	l.Unlock()

	done := make(chan struct{})
	go func() {
		l.Lock()
		l.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("second Lock/Unlock pair blocked; interrupt state not restored")
	}
}
