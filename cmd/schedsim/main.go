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

// Command schedsim drives the scheduler against the goenv reference
// backend: a small CLI for running the demo workload and inspecting its
// configuration, the way runsc wraps the sentry for manual testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// acquireSingleton takes an exclusive, non-blocking file lock so two
// schedsim instances never race over the same demo workload, the same
// role gofrs/flock plays for gVisor's own sandbox instances. It returns a
// release function; callers should defer it immediately.
func acquireSingleton(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("schedsim: acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("schedsim: another instance already holds %s", path)
	}
	return func() { _ = lock.Unlock() }, nil
}
