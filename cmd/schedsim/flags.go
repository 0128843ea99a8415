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

import "flag"

// schedsimFlags are the config-override flags the run subcommand
// registers on its own flag.FlagSet; other subcommands do not take them.
type schedsimFlags struct {
	configFile    string
	quantumMillis int
	cleanupBudget int
	logLevel      string
	lockFile      string
}

// RegisterFlags installs schedsim's config-override flags onto flagSet.
func (f *schedsimFlags) RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.StringVar(&f.configFile, "config", "", "path to a TOML config file")
	flagSet.IntVar(&f.quantumMillis, "quantum-millis", 0, "preemption quantum in milliseconds (0: use config/default)")
	flagSet.IntVar(&f.cleanupBudget, "cleanup-budget", 0, "max Finished tasks reclaimed per reschedule (0: use config/default)")
	flagSet.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warning, error (empty: use config/default)")
	flagSet.StringVar(&f.lockFile, "lock-file", "", "singleton guard lock file path (empty: use config/default)")
}

// applyOverrides layers non-zero flag values on top of a loaded Config.
func (f *schedsimFlags) applyOverrides(cfg Config) Config {
	if f.quantumMillis != 0 {
		cfg.QuantumMillis = f.quantumMillis
	}
	if f.cleanupBudget != 0 {
		cfg.CleanupBudget = f.cleanupBudget
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.lockFile != "" {
		cfg.LockFile = f.lockFile
	}
	return cfg
}
