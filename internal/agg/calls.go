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
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"strconv"

	"github.com/corestream/corestream/internal/ident"
	"github.com/corestream/corestream/internal/state"
)

// AggKind enumerates the aggregate functions the operator supports.
type AggKind int

const (
	AggSum AggKind = iota
	AggCount
	AggMin
	AggMax
)

// Materialized reports whether this kind needs a backing state table
// (min/max, which cannot be recomputed from a running scalar once a row
// is retracted) as opposed to a pure running scalar (sum/count).
func (k AggKind) Materialized() bool {
	return k == AggMin || k == AggMax
}

// AggCall describes one aggregate function invocation within a group.
type AggCall struct {
	Kind     AggKind
	InputCol int // column index of the argument; -1 for count(*)

	// Filter, if set, is this call's FILTER (WHERE ...) predicate
	// (spec.md §4.5 step 4): a row the group's bitmap otherwise includes
	// is still skipped by this call when Filter returns false for it.
	// nil means the call sees every row the group sees.
	Filter func(row Row) bool
}

// CallState is the per-group, per-call incremental aggregate state.
// Materialized-input kinds additionally satisfy materializedState.
type CallState interface {
	Apply(op Op, arg Value)
	Output() Value
}

// scalarState backs Sum and Count: retraction just subtracts, since both
// are computable from a running total without consulting history.
type scalarState struct {
	kind  AggKind
	total float64
	count int64
}

func newScalarState(kind AggKind) *scalarState {
	return &scalarState{kind: kind}
}

func (s *scalarState) Apply(op Op, arg Value) {
	delta := int64(1)
	if op == OpDelete {
		delta = -1
	}
	s.count += delta
	if s.kind == AggSum {
		if f, ok := toFloat(arg); ok {
			s.total += f * float64(delta)
		}
	}
}

func (s *scalarState) Output() Value {
	if s.kind == AggCount {
		return s.count
	}
	return s.total
}

func toFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// materializedState backs Min/Max. Per spec.md §4.3, retractions can
// invalidate the current extremum without a scalar able to recover it
// (the second-highest value is unknown without consulting history), so
// every candidate row is written through to a backing state.Table ordered
// (group_key..., call, agg_arg asc, input_pk) and the extremum is read from
// the surviving rows after the delete: the first in that order for Min,
// the last for Max.
type materializedState struct {
	kind     AggKind
	group    GroupKey
	call     int
	storage  *state.Table
	vnode    ident.Vnode
	inputPK  []int
	current  Value
	dirty    bool
}

func newMaterializedState(kind AggKind, group GroupKey, call int, storage *state.Table, vnode ident.Vnode, inputPK []int) *materializedState {
	return &materializedState{kind: kind, group: group, call: call, storage: storage, vnode: vnode, inputPK: inputPK}
}

// materializedKey lays out (group_key, call_index, agg_arg, input_pk) so
// the ascending byte order of keys within the group matches the
// ascending/descending value order the extremum needs: Min wants the
// smallest key first (natural byte order of a big-endian numeric
// encoding), Max takes the last matching key of the same ascending scan.
func materializedKey(group GroupKey, call int, arg Value, inputPK []byte) []byte {
	buf := groupCallPrefix(group, call)
	if f, ok := toFloat(arg); ok {
		var argBuf [8]byte
		binary.BigEndian.PutUint64(argBuf[:], floatSortableBits(f))
		buf = append(buf, argBuf[:]...)
	}
	buf = append(buf, inputPK...)
	return buf
}

// floatSortableBits maps a float64 to a uint64 whose big-endian byte
// order matches numeric order, including across the sign boundary.
func floatSortableBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func (m *materializedState) Apply(op Op, arg Value) {
	// Candidate rows are written by the operator's materialized-input step
	// (spec.md §4.5 step 5) directly against m.storage; Apply here only
	// tracks that this group's extremum needs recomputing before the next
	// flush.
	m.dirty = true
}

// Recompute walks the backing table in extremum order and caches the
// front row's argument as the current output; call after every chunk that
// touched this group and before Output is read downstream.
func (m *materializedState) Recompute() error {
	prefix := groupCallPrefix(m.group, m.call)
	var best Value
	err := m.storage.Scan(m.vnode, func(pk, value []byte) bool {
		if !bytes.HasPrefix(pk, prefix) {
			return true
		}
		if m.kind == AggMin {
			best = decodeArg(value)
			return false // first matching row in ascending order is the min
		}
		best = decodeArg(value) // keep scanning; last match in ascending order is the max
		return true
	})
	if err != nil {
		return err
	}
	m.current = best
	m.dirty = false
	return nil
}

// groupCallPrefix is the (group_key, call_index) prefix shared by every
// materializedKey belonging to one group's call.
func groupCallPrefix(group GroupKey, call int) []byte {
	var buf []byte
	buf = append(buf, []byte(group)...)
	buf = append(buf, 0)
	var callBuf [4]byte
	binary.BigEndian.PutUint32(callBuf[:], uint32(call))
	return append(buf, callBuf[:]...)
}

func (m *materializedState) Output() Value {
	return m.current
}

// FlushIfNeeded recomputes the cached extremum if this group's
// materialized state was touched since the last flush, matching
// flush_state_if_needed (spec.md §4.3).
func (m *materializedState) FlushIfNeeded() error {
	if !m.dirty {
		return nil
	}
	return m.Recompute()
}

func decodeArg(value []byte) Value {
	if len(value) != 8 {
		return nil
	}
	bits := binary.BigEndian.Uint64(value)
	if bits&(1<<63) != 0 {
		return math.Float64frombits(bits &^ (1 << 63))
	}
	return math.Float64frombits(^bits)
}

// sortRows orders candidate rows for a group by argument value ascending,
// tie-broken by input pk ascending (spec.md §4.3's ordering rule). Nothing
// in this package calls it; writeCandidateRow stages rows one at a time
// and relies on materializedKey's byte order instead.
func sortRows(rows []Row, argCol int, pkIndices []int) {
	sort.SliceStable(rows, func(i, j int) bool {
		fi, _ := toFloat(rows[i][argCol])
		fj, _ := toFloat(rows[j][argCol])
		if fi != fj {
			return fi < fj
		}
		for _, pk := range pkIndices {
			vi, vj := rows[i][pk], rows[j][pk]
			if vi != vj {
				return compareValues(vi, vj) < 0
			}
		}
		return false
	})
}

func compareValues(a, b Value) int {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	sa, sb := toString(a), toString(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func toString(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
