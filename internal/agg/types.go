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

// Package agg implements the Agg-Group (C3) and Hash-Aggregation Operator
// (C5), the streaming operator that fans an upstream chunk out by group
// key, applies incremental aggregates backed by C1/C2, and emits result
// chunks on barriers or window close.
package agg

import (
	"bytes"
	"fmt"

	"github.com/corestream/corestream/internal/state"
)

// Value is one cell of a Row. The operator never interprets a Value's
// dynamic type itself; individual AggCall implementations do.
type Value interface{}

// Row is a single logical record, column-ordered.
type Row []Value

// Op classifies a row arriving in a Chunk.
type Op int

const (
	OpInsert Op = iota
	OpDelete
)

// Chunk is a batch of upstream rows sharing one visibility set.
type Chunk struct {
	Ops  []Op
	Rows []Row
	// Vis marks which row indices are visible; nil means all rows visible.
	Vis []bool
}

func (c Chunk) visible(i int) bool {
	return c.Vis == nil || c.Vis[i]
}

// GroupKey is the serialized concatenation of a row's group-by columns.
// Go's map already hashes strings cheaply, so GroupKey carries no separate
// precomputed-hash field the way the original does: a second hash type
// would just shadow what map[GroupKey] already computes internally.
type GroupKey string

// KeyOf derives a row's GroupKey from its values at the given column
// indices.
func KeyOf(row Row, indices []int) GroupKey {
	var buf bytes.Buffer
	for i, idx := range indices {
		if i > 0 {
			buf.WriteByte(0)
		}
		fmt.Fprintf(&buf, "%v", row[idx])
	}
	return GroupKey(buf.String())
}

// ChangeOp classifies a BuildChange result.
type ChangeOp int

const (
	ChangeInsert ChangeOp = iota
	ChangeDelete
	ChangeUpdate
)

// Change is one output mutation an AggGroup produces for its group key.
type Change struct {
	Op  ChangeOp
	Old Row // set for Delete and Update
	New Row // set for Insert and Update
}

// StorageError is returned whenever a backing state.Table fails durability,
// matching spec.md §7's Storage error kind.
var StorageError = state.ErrStorage
