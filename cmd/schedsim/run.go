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

package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/subcommands"

	"github.com/polykernel/sched/internal/ktrace"
	"github.com/polykernel/sched/pkg/archhook/goenv"
	"github.com/polykernel/sched/pkg/sched"
)

// runCmd runs a small fixed demo workload on the goenv backend: three
// Normal priority workers contending a Mutex-guarded counter, plus one
// High priority task, so the demo actually exercises priority dispatch
// and blocking rather than just printing.
type runCmd struct {
	flags  schedsimFlags
	cycles int
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run the built-in scheduler demo workload" }
func (*runCmd) Usage() string {
	return "run [--cycles N]: spawn a fixed demo workload and run it to completion\n"
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	c.flags.RegisterFlags(f)
	f.IntVar(&c.cycles, "cycles", 5, "number of preemption cycles the demo workload runs for")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := loadConfig(c.flags.configFile)
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	cfg = c.flags.applyOverrides(cfg)

	if level, err := ktrace.ParseLevel(cfg.LogLevel); err == nil {
		ktrace.SetLevel(level)
	}

	release, err := acquireSingleton(cfg.LockFile)
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	defer release()

	log := ktrace.New("schedsim")
	hooks := goenv.New()
	s := sched.New(hooks, sched.WithCleanupBudget(cfg.CleanupBudget))
	s.AddIdleTask()

	slicer := sched.NewTimeSlicer(s, cfg.Quantum())
	slicer.Start()
	defer slicer.Stop()

	var wg sync.WaitGroup
	wg.Add(1)

	var mu = sched.NewMutex(s, 0)
	const contenders = 3

	jobs := sched.NewJobManager(s)
	for i := 0; i < contenders; i++ {
		i := i
		name := fmt.Sprintf("worker-%d", i)
		_, err := jobs.Start(name, func() {
			for cycle := 0; cycle < c.cycles; cycle++ {
				g := mu.Lock()
				*g.Value()++
				log.Infof("worker %d incremented shared counter to %d on cycle %d", i, *g.Value(), cycle)
				g.Unlock()
				time.Sleep(time.Millisecond)
				s.Checkpoint()
			}
			if err := jobs.MarkStopped(name); err != nil {
				log.Errorf("mark %q stopped: %v", name, err)
			}
			if i == 0 {
				wg.Done()
			}
		}, sched.Normal)
		if err != nil {
			fmt.Println(err)
			return subcommands.ExitFailure
		}
	}

	if _, err := jobs.Start("preemptor", func() {
		log.Infof("high priority task preempting the demo workload")
		if err := jobs.MarkStopped("preemptor"); err != nil {
			log.Errorf("mark preemptor stopped: %v", err)
		}
	}, sched.High); err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warningf("sd_notify failed: %v", err)
	} else if ok {
		log.Infof("notified supervisor of readiness")
	}

	// The calling goroutine is the idle task: hand the CPU to the workload.
	// Control comes back here only once nothing is left ready to run.
	s.Reschedule()
	wg.Wait()
	for name, job := range jobs.Snapshot() {
		log.Infof("job %q (task %d) ended in state %q", name, job.Task, job.State())
	}
	log.Infof("demo workload complete; %d tasks still live", s.NumberOfTasks())
	return subcommands.ExitSuccess
}
