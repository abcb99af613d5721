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
	"github.com/corestream/corestream/internal/ident"
	"github.com/corestream/corestream/internal/sortbuf"
	"github.com/corestream/corestream/internal/state"
)

// SortBufferAdapter adapts a sortbuf.Buffer to the sortBufferDriver
// interface the Operator's emission step drives in EOWC mode, additionally
// wiring a Committer so a consumed row is removed from the result table
// (spec.md §4.4), not just handed to the caller.
type SortBufferAdapter struct {
	buf         *sortbuf.Buffer
	resultTable *state.Table
}

// NewSortBufferAdapter wraps buf for use as an Operator's sort buffer,
// deleting consumed rows from resultTable as they are drained.
func NewSortBufferAdapter(buf *sortbuf.Buffer, resultTable *state.Table) *SortBufferAdapter {
	return &SortBufferAdapter{buf: buf, resultTable: resultTable}
}

// rowMeta is the correlation data ApplyInsert stashes on a sortbuf.Change
// so Consume's Committer can find the same row in the result table again.
type rowMeta struct {
	key   GroupKey
	vnode ident.Vnode
}

// ApplyInsert mirrors a new output row into the sort buffer at the given
// window value, tagging it with the key and vnode it was written to the
// result table under.
func (a *SortBufferAdapter) ApplyInsert(window int64, key GroupKey, vnode ident.Vnode, row Row) {
	a.buf.ApplyChange(sortbuf.Change{
		Window: window,
		Row:    rowToAny(row),
		Meta:   rowMeta{key: key, vnode: vnode},
	})
}

// Consume drains every buffered row at or below watermark, in ascending
// window order, converting them back to Rows and deleting each from the
// result table as it leaves the buffer.
func (a *SortBufferAdapter) Consume(watermark int64) []Row {
	changes, err := sortbuf.Consume(a.buf, watermark, resultDeleter{table: a.resultTable})
	if err != nil {
		// WriteRecord only stages a delete, it never performs I/O itself, so
		// resultDeleter.Delete below can't actually fail; this path exists
		// only so a future change to that contract can't silently drop errors.
		return nil
	}
	out := make([]Row, len(changes))
	for i, c := range changes {
		out[i] = anyToRow(c.Row)
	}
	return out
}

// resultDeleter is the sortbuf.Committer that stages a result-table delete
// for each row sortbuf.Consume releases.
type resultDeleter struct {
	table *state.Table
}

func (d resultDeleter) Delete(c sortbuf.Change) error {
	meta, ok := c.Meta.(rowMeta)
	if !ok {
		return nil
	}
	d.table.WriteRecord(state.OpDelete, state.Row{Vnode: meta.vnode, Key: []byte(meta.key)})
	return nil
}

func rowToAny(row Row) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

func anyToRow(vs []any) Row {
	out := make(Row, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
