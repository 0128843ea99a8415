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
	"fmt"
	"sync"

	"github.com/mohae/deepcopy"

	"github.com/polykernel/sched/internal/ktrace"
)

// jobState is a named job's position in its lifecycle.
type jobState int

const (
	jobCreated jobState = iota
	jobRunning
	jobStopped
)

func (s jobState) String() string {
	switch s {
	case jobCreated:
		return "created"
	case jobRunning:
		return "running"
	case jobStopped:
		return "stopped"
	default:
		return "jobState(?)"
	}
}

// Job is a named handle onto a spawned task, tracked through a small
// created -> running -> stopped state machine.
type Job struct {
	Name  string
	Task  TaskId
	state jobState
}

// State returns the job's current lifecycle state as a string, for
// logging and status reporting.
func (j *Job) State() string { return j.state.String() }

// JobManager associates human-readable names with spawned tasks and
// tracks each one's lifecycle state, the way a supervisor tracks the
// containers it starts: by name, not by raw task id, with updates funneled
// through a single state-transition check so an out-of-order transition
// (e.g. stopping a job twice) is caught rather than silently applied.
type JobManager struct {
	sched *Scheduler
	log   *ktrace.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobManager constructs a JobManager spawning tasks on s.
func NewJobManager(s *Scheduler) *JobManager {
	return &JobManager{
		sched: s,
		log:   ktrace.New("jobs"),
		jobs:  make(map[string]*Job),
	}
}

// updateState validates and applies a lifecycle transition, mirroring the
// lifecycle manager's single-choke-point state update: every transition,
// valid or not, passes through here, so a caller that reaches an invalid
// transition gets a clear panic instead of silently corrupted state.
func (jm *JobManager) updateState(name string, next jobState) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	j, ok := jm.jobs[name]
	if !ok {
		return fmt.Errorf("sched: job %q not started", name)
	}

	switch next {
	case jobRunning:
		if j.state != jobCreated {
			panic(fmt.Sprintf("sched: invalid job transition for %q: %s -> %s", name, j.state, next))
		}
	case jobStopped:
		if j.state == jobStopped {
			panic(fmt.Sprintf("sched: invalid job transition for %q: %s -> %s", name, j.state, next))
		}
	default:
		panic(fmt.Sprintf("sched: invalid target job state: %s", next))
	}

	jm.log.Debugf("job %q transition %s -> %s", name, j.state, next)
	j.state = next
	return nil
}

// Start spawns entry as a new task named name and marks the job running.
// The name must not already be in use by a job that hasn't been reaped
// with Forget.
func (jm *JobManager) Start(name string, entry func(), prio Priority) (TaskId, error) {
	jm.mu.Lock()
	if _, exists := jm.jobs[name]; exists {
		jm.mu.Unlock()
		return 0, fmt.Errorf("sched: job %q already started", name)
	}
	jm.mu.Unlock()

	id, err := jm.sched.Spawn(entry, prio)
	if err != nil {
		return 0, err
	}

	jm.mu.Lock()
	jm.jobs[name] = &Job{Name: name, Task: id, state: jobCreated}
	jm.mu.Unlock()

	if err := jm.updateState(name, jobRunning); err != nil {
		return 0, err
	}
	jm.log.Infof("started job %q as task %d", name, id)
	return id, nil
}

// MarkStopped records that name's task has finished. Callers typically
// call this from the task's own exit path, or from a supervisor that has
// observed the task leave the scheduler's live set.
func (jm *JobManager) MarkStopped(name string) error {
	return jm.updateState(name, jobStopped)
}

// IsRunning reports whether name refers to a job in the running state.
func (jm *JobManager) IsRunning(name string) bool {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	j, ok := jm.jobs[name]
	return ok && j.state == jobRunning
}

// Lookup returns the job registered under name, if any.
func (jm *JobManager) Lookup(name string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	j, ok := jm.jobs[name]
	return j, ok
}

// Snapshot returns a point-in-time, independently-mutable copy of every
// tracked job, keyed by name. It is meant for a supervisor or status
// reporter that wants to inspect job state without holding jm's lock or
// racing a concurrent Start/MarkStopped/Forget; the returned map and Job
// values share no memory with jm's own bookkeeping.
func (jm *JobManager) Snapshot() map[string]Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	out := make(map[string]Job, len(jm.jobs))
	for name, j := range jm.jobs {
		out[name] = *deepcopy.Copy(j).(*Job)
	}
	return out
}

// Forget drops a stopped job's bookkeeping entry, freeing its name for
// reuse. It is an error to forget a job that is still running.
func (jm *JobManager) Forget(name string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	j, ok := jm.jobs[name]
	if !ok {
		return fmt.Errorf("sched: job %q not started", name)
	}
	if j.state != jobStopped {
		return fmt.Errorf("sched: job %q is %s, not stopped", name, j.state)
	}
	delete(jm.jobs, name)
	return nil
}
