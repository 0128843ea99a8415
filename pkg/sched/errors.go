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

import "github.com/polykernel/sched/pkg/archhook"

// ErrOutOfMemory is returned by Spawn when the stack allocator hook has
// no room for a new task's stack. It is a re-export of archhook's
// sentinel so callers of pkg/sched never need to import pkg/archhook
// themselves just to use errors.Is.
var ErrOutOfMemory = archhook.ErrOutOfMemory
