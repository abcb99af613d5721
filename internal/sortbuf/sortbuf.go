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

// Package sortbuf implements the Sort Buffer (C4): a secondary,
// watermark-ordered index over a result table used for emit-on-window-close
// (EOWC) semantics.
//
// Its ordered-replay shape follows the teacher's internal/util/msort
// package (UniqueByKey's backwards "last one wins" scan over an ordered
// run of mutations); here the ordering key is the window column instead
// of a commit timestamp, and consumption removes rows rather than
// coalescing them.
package sortbuf

import (
	"sort"

	"github.com/pkg/errors"
)

// Change mirrors agg.Change without importing package agg, so sortbuf has
// no dependency on the aggregate call machinery — it only needs a row and
// a window-column value to order by. Meta is opaque to this package: a
// caller may stash whatever correlation data (result-table key, vnode) its
// Committer needs to find this row again on Consume, without sortbuf
// needing to know the shape of that data.
type Change struct {
	Window int64 // the window column's value, used as the sort key
	Row    []any
	Delete bool
	Meta   any
}

// Buffer holds changes not yet safe to emit, ordered by Window ascending.
type Buffer struct {
	entries []Change
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// ApplyChange mirrors one change into the buffer, keeping entries ordered
// by Window. A Delete removes the last entry, in Window order, whose row
// elements all compare equal (==) to the Delete's row, instead of leaving
// the buffer to build a tombstone the caller can't cheaply reconcile.
func (b *Buffer) ApplyChange(c Change) {
	if c.Delete {
		for i := len(b.entries) - 1; i >= 0; i-- {
			if rowEqual(b.entries[i].Row, c.Row) {
				b.entries = append(b.entries[:i], b.entries[i+1:]...)
				return
			}
		}
		return
	}
	idx := sort.Search(len(b.entries), func(i int) bool { return b.entries[i].Window >= c.Window })
	b.entries = append(b.entries, Change{})
	copy(b.entries[idx+1:], b.entries[idx:])
	b.entries[idx] = c
}

func rowEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Committer is the subset of state.Table's contract sortbuf needs to
// remove a row from the backing result table as it is consumed.
type Committer interface {
	Delete(c Change) error
}

// Consume yields every buffered row whose Window is <= watermark, in
// ascending order, removing each from the buffer and (via commit) from
// the result table. It stops on the first commit failure and returns the
// rows handed to the Committer before it with the Committer's error
// wrapped; in that case the buffer is left unchanged, those rows included.
func Consume(b *Buffer, watermark int64, commit Committer) ([]Change, error) {
	var out []Change
	i := 0
	for ; i < len(b.entries); i++ {
		if b.entries[i].Window > watermark {
			break
		}
		if commit != nil {
			if err := commit.Delete(b.entries[i]); err != nil {
				return out, errors.Wrapf(err, "sortbuf: committing consumed row at window %d", b.entries[i].Window)
			}
		}
		out = append(out, b.entries[i])
	}
	b.entries = b.entries[i:]
	return out, nil
}

// Len returns the number of buffered, not-yet-consumed changes.
func (b *Buffer) Len() int { return len(b.entries) }
