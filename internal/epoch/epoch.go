// Copyright 2024 The Corestream Authors
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

// Package epoch is the single source of the monotonic epoch pairs that
// travel with every barrier. Both the hash-aggregation operator and the
// create-mview progress tracker trust the ordering it establishes.
package epoch

import "fmt"

// Epoch is a monotonically increasing checkpoint marker.
type Epoch int64

// Zero is the epoch used before any barrier has been observed.
const Zero Epoch = 0

// Pair travels with every barrier. The invariant that callers must
// preserve is: for any given actor, successive barriers satisfy
// curr_n == prev_{n+1}.
type Pair struct {
	Prev Epoch
	Curr Epoch
}

// String implements fmt.Stringer.
func (p Pair) String() string { return fmt.Sprintf("(%d,%d)", p.Prev, p.Curr) }

// Succeeds reports whether p is a valid successor of prior, i.e.
// prior.Curr == p.Prev.
func (p Pair) Succeeds(prior Pair) bool { return prior.Curr == p.Prev }

// Kind distinguishes checkpoint barriers, which force durable commits,
// from non-checkpoint barriers, which allow deferring side effects.
type Kind int

const (
	// KindInitial is the first barrier an actor ever observes.
	KindInitial Kind = iota
	// KindCheckpoint forces a durable commit of every backing table.
	KindCheckpoint
	// KindNonCheckpoint allows commits to be deferred.
	KindNonCheckpoint
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindInitial:
		return "initial"
	case KindCheckpoint:
		return "checkpoint"
	case KindNonCheckpoint:
		return "non-checkpoint"
	default:
		return "unknown"
	}
}
