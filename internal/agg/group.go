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

package agg

import (
	"fmt"
	"strings"

	"github.com/corestream/corestream/internal/ident"
	"github.com/corestream/corestream/internal/state"
	"github.com/pkg/errors"
)

// rowFieldSep separates encoded row fields. Row encoding here is
// intentionally a flat delimited string rather than a real columnar
// codec: AggGroup only ever needs to restore a previous output row far
// enough to compare it for equality and re-seed running scalars, never to
// recover arbitrary typed access; see DESIGN.md.
const rowFieldSep = "\x1f"

func encodeRow(row Row) []byte {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = fmt.Sprint(v)
	}
	return []byte(strings.Join(parts, rowFieldSep))
}

// AggGroup is the per-group-key incremental aggregate state (C3):
// per-call states plus the previously emitted output row, lazily
// hydrated from the result table on first access.
type AggGroup struct {
	Key   GroupKey
	vnode ident.Vnode

	calls      []AggCall
	callStates []CallState

	prevOutput      Row
	uninitialized   bool
	rowCount        int64
	rowCountIndex   int
}

// Create builds an AggGroup for key, reading its previous output row from
// resultTable (if one exists) to seed prevOutput and each call's state.
// is_uninitialized() is true exactly when no previous row existed.
func Create(key GroupKey, vnode ident.Vnode, calls []AggCall, storages []*state.Table, resultTable *state.Table, inputPK []int, rowCountIndex int) (*AggGroup, error) {
	g := &AggGroup{
		Key:           key,
		vnode:         vnode,
		calls:         calls,
		callStates:    make([]CallState, len(calls)),
		rowCountIndex: rowCountIndex,
	}

	prevBytes, found, err := resultTable.Get(vnode, []byte(key))
	if err != nil {
		return nil, errors.Wrapf(err, "agg: hydrating group %q", key)
	}
	g.uninitialized = !found
	if found {
		g.prevOutput = decodeRow(prevBytes)
		g.rowCount = rowCountOf(g.prevOutput, rowCountIndex)
	}

	for i, call := range calls {
		if call.Kind.Materialized() {
			g.callStates[i] = newMaterializedState(call.Kind, key, i, storages[i], vnode, inputPK)
			continue
		}
		s := newScalarState(call.Kind)
		if found {
			// Seed the running scalar from the previously emitted output so
			// the operator does not need a full table scan to resume a
			// running sum/count across a restart.
			if idx := callOutputIndex(i, rowCountIndex); idx < len(g.prevOutput) {
				if f, ok := toFloat(g.prevOutput[idx]); ok {
					s.total = f
					s.count = int64(f)
				}
			}
		}
		g.callStates[i] = s
	}
	return g, nil
}

func callOutputIndex(call, rowCountIndex int) int {
	if call >= rowCountIndex {
		return call + 1
	}
	return call
}

func rowCountOf(row Row, idx int) int64 {
	if idx < 0 || idx >= len(row) {
		return 0
	}
	if n, ok := toFloat(row[idx]); ok {
		return int64(n)
	}
	return 0
}

// IsUninitialized reports whether this group had no previous output row
// when created.
func (g *AggGroup) IsUninitialized() bool { return g.uninitialized }

// Vnode returns the vnode this group was hydrated under, so callers
// writing its output back to the result table key it under the same
// vnode partition it was read from.
func (g *AggGroup) Vnode() ident.Vnode { return g.vnode }

// ApplyChunk updates every call's state from the rows at rowIdxs in chunk,
// intersected per-call with perCallVis (materialized calls additionally
// have their candidate rows written through to their backing table).
// rowIdxs is the group's own membership (spec.md §4.5's per-group
// bitmap), so the group's row count tracks it directly rather than any
// one call's state: rowCountIndex names only an output-column position
// (see callOutputIndex/GetOutputs), not a call to gate counting on, and a
// per-call FILTER (AggCall.Filter) must not shrink the group's own row
// count even though it narrows what individual calls see.
func (g *AggGroup) ApplyChunk(chunk Chunk, rowIdxs []int, perCallVis []func(rowIdx int) bool, inputPKIndices []int) error {
	for _, idx := range rowIdxs {
		if !chunk.visible(idx) {
			continue
		}
		if chunk.Ops[idx] == OpInsert {
			g.rowCount++
		} else {
			g.rowCount--
		}
	}

	for i, call := range g.calls {
		vis := perCallVis[i]
		for _, idx := range rowIdxs {
			if !chunk.visible(idx) || (vis != nil && !vis(idx)) {
				continue
			}
			row := chunk.Rows[idx]
			var arg Value
			if call.InputCol >= 0 {
				arg = row[call.InputCol]
			}
			if call.Kind.Materialized() {
				if err := g.writeCandidateRow(call, i, chunk.Ops[idx], row, arg, inputPKIndices); err != nil {
					return err
				}
			}
			g.callStates[i].Apply(chunk.Ops[idx], arg)
		}
	}
	return nil
}

// writeCandidateRow stages a candidate min/max row into its backing
// table, keyed so the extremum sits at one end of scan order (spec.md
// §4.3's ordering rule).
func (g *AggGroup) writeCandidateRow(call AggCall, callIdx int, op Op, row Row, arg Value, inputPKIndices []int) error {
	m := g.callStates[callIdx].(*materializedState)
	pkBytes := []byte(fmt.Sprint(keyOfIndices(row, inputPKIndices)))
	key := materializedKey(g.Key, callIdx, arg, pkBytes)
	switch op {
	case OpInsert:
		m.storage.WriteRecord(state.OpInsert, state.Row{Vnode: g.vnode, Key: key, Value: encodeArg(arg)})
	case OpDelete:
		m.storage.WriteRecord(state.OpDelete, state.Row{Vnode: g.vnode, Key: key})
	}
	return nil
}

func keyOfIndices(row Row, indices []int) Row {
	out := make(Row, len(indices))
	for i, idx := range indices {
		out[i] = row[idx]
	}
	return out
}

func encodeArg(v Value) []byte {
	f, _ := toFloat(v)
	buf := make([]byte, 8)
	bits := floatSortableBits(f)
	// store the sortable-transformed representation big-endian; decodeArg
	// applies the inverse transform, so the value round-trips exactly.
	for i := 7; i >= 0; i-- {
		buf[i] = byte(bits)
		bits >>= 8
	}
	return buf
}

// FlushStateIfNeeded commits materialized-input agg states (min/max) to
// their dedicated tables, recomputing the cached extremum for each.
func (g *AggGroup) FlushStateIfNeeded() error {
	for _, cs := range g.callStates {
		if m, ok := cs.(*materializedState); ok {
			if err := m.FlushIfNeeded(); err != nil {
				return errors.Wrapf(err, "agg: flushing group %q", g.Key)
			}
		}
	}
	return nil
}

// GetOutputs computes the group's current output row: each call's output
// in call order, with the row count inserted at rowCountIndex (calls at or
// after that position shift one column right; see callOutputIndex).
func (g *AggGroup) GetOutputs() Row {
	row := make(Row, len(g.calls)+1)
	for i := range g.calls {
		idx := callOutputIndex(i, g.rowCountIndex)
		row[idx] = g.callStates[i].Output()
	}
	row[g.rowCountIndex] = g.rowCount
	return row
}

// BuildChange compares curr against prevOutput and returns the Insert,
// Delete, or Update record needed to reconcile them, or (nil, false) if
// nothing changed. It updates prevOutput in place to curr.
func (g *AggGroup) BuildChange(curr Row) (*Change, bool) {
	wasUninitialized := g.uninitialized
	hasRowsNow := g.rowCount > 0

	var change *Change
	switch {
	case wasUninitialized && hasRowsNow:
		change = &Change{Op: ChangeInsert, New: curr}
	case !wasUninitialized && !hasRowsNow:
		change = &Change{Op: ChangeDelete, Old: g.prevOutput}
	case !wasUninitialized && hasRowsNow && !rowsEqual(g.prevOutput, curr):
		change = &Change{Op: ChangeUpdate, Old: g.prevOutput, New: curr}
	default:
		if !hasRowsNow {
			return nil, false
		}
	}

	g.prevOutput = curr
	g.uninitialized = !hasRowsNow
	if change == nil {
		return nil, false
	}
	return change, true
}

func rowsEqual(a, b Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if fmt.Sprint(a[i]) != fmt.Sprint(b[i]) {
			return false
		}
	}
	return true
}

func decodeRow(b []byte) Row {
	if len(b) == 0 {
		return nil
	}
	parts := strings.Split(string(b), rowFieldSep)
	row := make(Row, len(parts))
	for i, p := range parts {
		row[i] = p
	}
	return row
}
