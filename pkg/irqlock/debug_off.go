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

//go:build !sched_debug

package irqlock

// debugState is a no-op in production builds: re-entrant acquire deadlocks,
// per the documented non-recursive contract, instead of paying for holder
// tracking on every lock/unlock.
type debugState struct{}

func (*debugState) onAcquireAttempt(*SpinlockIRQSave) {}
func (*debugState) onAcquire(*SpinlockIRQSave)         {}
func (*debugState) onRelease(*SpinlockIRQSave)         {}
