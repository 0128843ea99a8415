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

// Package ktrace is a thin structured-logging wrapper used throughout
// this module, so scheduler internals never call logrus directly and
// every log line carries a "component" field.
package ktrace

import "github.com/sirupsen/logrus"

// Logger adapts a logrus.Entry to the Debugf/Infof/Warningf/Errorf
// surface the scheduler's components are written against.
type Logger struct {
	entry *logrus.Entry
}

// New returns a Logger tagging every line with component.
func New(component string) *Logger {
	return &Logger{entry: logrus.StandardLogger().WithField("component", component)}
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) { l.entry.Infof(format, args...) }

// Warningf logs at warning level.
func (l *Logger) Warningf(format string, args ...any) { l.entry.Warningf(format, args...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// SetLevel adjusts the package-wide minimum log level, e.g. from a CLI
// --log-level flag.
func SetLevel(level logrus.Level) { logrus.SetLevel(level) }

// ParseLevel parses a level name such as "debug" or "warning".
func ParseLevel(s string) (logrus.Level, error) { return logrus.ParseLevel(s) }
