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

func TestJobManagerLifecycle(t *testing.T) {
	s := newTestScheduler(t)
	jm := NewJobManager(s)

	id, err := jm.Start("worker-a", func() {}, Normal)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !jm.IsRunning("worker-a") {
		t.Fatalf("IsRunning(worker-a) = false right after Start")
	}

	job, ok := jm.Lookup("worker-a")
	if !ok {
		t.Fatalf("Lookup(worker-a) found nothing")
	}
	if job.Task != id {
		t.Fatalf("job.Task = %d, want %d", job.Task, id)
	}
	if job.State() != "running" {
		t.Fatalf("job.State() = %q, want running", job.State())
	}

	runWithTimeout(t, time.Second, s.Reschedule)

	if err := jm.MarkStopped("worker-a"); err != nil {
		t.Fatalf("MarkStopped: %v", err)
	}
	if jm.IsRunning("worker-a") {
		t.Fatalf("IsRunning(worker-a) = true after MarkStopped")
	}
	if err := jm.Forget("worker-a"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, ok := jm.Lookup("worker-a"); ok {
		t.Fatalf("Lookup(worker-a) still found an entry after Forget")
	}
}

func TestJobManagerSnapshotIsIndependent(t *testing.T) {
	s := newTestScheduler(t)
	jm := NewJobManager(s)

	if _, err := jm.Start("worker-a", func() {}, Normal); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runWithTimeout(t, time.Second, s.Reschedule)

	snap := jm.Snapshot()
	job, ok := snap["worker-a"]
	if !ok {
		t.Fatalf("Snapshot() missing worker-a")
	}

	// Mutating the snapshot's copy must not affect jm's own bookkeeping.
	job.Name = "tampered"
	live, ok := jm.Lookup("worker-a")
	if !ok {
		t.Fatalf("Lookup(worker-a) missing after snapshot mutation")
	}
	if live.Name != "worker-a" {
		t.Fatalf("live job name = %q, want unaffected by snapshot mutation", live.Name)
	}
}

func TestJobManagerRejectsDuplicateStart(t *testing.T) {
	s := newTestScheduler(t)
	jm := NewJobManager(s)

	if _, err := jm.Start("worker-a", func() {}, Normal); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := jm.Start("worker-a", func() {}, Normal); err == nil {
		t.Fatalf("Start succeeded on a name already in use")
	}

	runWithTimeout(t, time.Second, s.Reschedule)
}

func TestJobManagerRejectsDoubleStop(t *testing.T) {
	s := newTestScheduler(t)
	jm := NewJobManager(s)

	if _, err := jm.Start("worker-a", func() {}, Normal); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runWithTimeout(t, time.Second, s.Reschedule)

	if err := jm.MarkStopped("worker-a"); err != nil {
		t.Fatalf("MarkStopped: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("MarkStopped did not panic on a job already stopped")
		}
	}()
	jm.MarkStopped("worker-a")
}

func TestJobManagerForgetRequiresStopped(t *testing.T) {
	s := newTestScheduler(t)
	jm := NewJobManager(s)

	if _, err := jm.Start("worker-a", func() {}, Normal); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := jm.Forget("worker-a"); err == nil {
		t.Fatalf("Forget succeeded on a still-running job")
	}

	runWithTimeout(t, time.Second, s.Reschedule)
}
