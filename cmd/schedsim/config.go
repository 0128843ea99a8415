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
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is schedsim's on-disk configuration, loaded from a TOML file and
// overridable by individual flags.
type Config struct {
	QuantumMillis int    `toml:"quantum_millis"`
	CleanupBudget int    `toml:"cleanup_budget"`
	LogLevel      string `toml:"log_level"`
	LockFile      string `toml:"lock_file"`
}

// defaultConfig mirrors the zero-config behavior: a 20ms quantum, a
// cleanup budget of one (matching the reference scheduler), info-level
// logging, and a lock file under the system temp directory.
func defaultConfig() Config {
	return Config{
		QuantumMillis: 20,
		CleanupBudget: 1,
		LogLevel:      "info",
		LockFile:      "/tmp/schedsim.lock",
	}
}

// Quantum returns the configured time slice as a time.Duration.
func (c Config) Quantum() time.Duration {
	return time.Duration(c.QuantumMillis) * time.Millisecond
}

// loadConfig reads a TOML config file at path, falling back to defaults
// for any field the file does not set. A missing path is not an error:
// it just means "use the defaults."
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("schedsim: decode config %s: %w", path, err)
	}
	return cfg, nil
}
