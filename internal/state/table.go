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

// Package state implements the versioned KV overlay (Table) that every
// operator commits its rows through, backed by a single shared pebble
// store.
//
// The write-buffering and commit shape here is adapted from the teacher's
// sink.go (deleteRow/upsertRow staged against a transaction, then applied)
// and resolved_table.go (read-back-after-write, advance-a-marker-on-commit).
// Where the teacher staged writes inside a SQL transaction, Table stages
// them in an in-memory delta and applies them to pebble as one batch on
// commit, since pebble has no multi-statement transactions of its own.
package state

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/corestream/corestream/internal/epoch"
	"github.com/corestream/corestream/internal/ident"
	"github.com/pkg/errors"
)

// ErrStorage wraps any durability failure from the backing store. Per
// spec.md §7 this is always fatal to the operator holding the table.
var ErrStorage = errors.New("state: storage error")

// Op classifies a staged write.
type Op int

const (
	OpInsert Op = iota
	OpDelete
)

// Row is a single staged (or committed) record. Key must be stable across
// an actor's lifetime for a given logical row; Value is the row's encoded
// bytes, opaque to the state layer.
type Row struct {
	Vnode ident.Vnode
	Key   []byte
	Value []byte
}

type stagedRecord struct {
	op  Op
	row Row
}

// Table is the per-operator, per-logical-table view over the shared store.
// It buffers writes between barriers and flushes them atomically on
// commit, matching the State Table contract in spec.md §4.1.
type Table struct {
	store  *pebble.DB
	table  ident.TableID
	pk     []int
	vnodes ident.VnodeBitmap

	epoch  epoch.Pair
	buffer []stagedRecord

	watermark       []byte
	watermarkStrict bool
}

// Open binds a Table to table within the shared store. pkIndices are the
// column indices making up the primary key, carried only for pk_indices();
// Table itself treats keys as opaque bytes.
func Open(store *pebble.DB, table ident.TableID, pkIndices []int, vnodes ident.VnodeBitmap) *Table {
	return &Table{store: store, table: table, pk: pkIndices, vnodes: vnodes}
}

// TableID returns the logical table this view is scoped to.
func (t *Table) TableID() ident.TableID { return t.table }

// PKIndices returns the primary-key column indices given at Open.
func (t *Table) PKIndices() []int { return t.pk }

// Vnodes returns the vnode set this replica currently owns.
func (t *Table) Vnodes() ident.VnodeBitmap { return t.vnodes }

// InitEpoch seeds the table's epoch on actor startup/recovery, before any
// write or commit call.
func (t *Table) InitEpoch(e epoch.Pair) {
	t.epoch = e
}

// WriteRecord stages a single row write. Writes are not visible to other
// operators, nor durable, until Commit.
func (t *Table) WriteRecord(op Op, row Row) {
	t.buffer = append(t.buffer, stagedRecord{op: op, row: row})
}

// WriteChunk stages every row of a chunk in order.
func (t *Table) WriteChunk(ops []Op, rows []Row) {
	for i, op := range ops {
		t.WriteRecord(op, rows[i])
	}
}

// UpdateWatermark records the table's current watermark on the designated
// window column; strict records whether rows at exactly the watermark
// value count as already passed. Table itself never deletes or filters on
// watermark advance, and Scan does not consult it — releasing rows is the
// Sort Buffer's job (internal/sortbuf). Table only remembers the latest
// value, readable through Watermark. Nothing in this tree calls
// UpdateWatermark.
func (t *Table) UpdateWatermark(w []byte, strict bool) {
	t.watermark = w
	t.watermarkStrict = strict
}

// Watermark returns the most recently applied watermark value and whether
// it is strict.
func (t *Table) Watermark() ([]byte, bool) {
	return t.watermark, t.watermarkStrict
}

// UpdateVnodeBitmap installs a new vnode ownership set, returning the
// previous one so the caller can run cache_may_stale (see ident.MayStale).
func (t *Table) UpdateVnodeBitmap(next ident.VnodeBitmap) ident.VnodeBitmap {
	prev := t.vnodes
	t.vnodes = next
	return prev
}

// storeKey lays out keys as (table_id, vnode, pk_bytes) per spec.md §6, so
// a single shared pebble instance can host every operator's tables while
// preserving per-(table,vnode) ordering.
func storeKey(table ident.TableID, vnode ident.Vnode, pk []byte) []byte {
	key := make([]byte, 0, 8+len(pk))
	var tbuf, vbuf [4]byte
	binary.BigEndian.PutUint32(tbuf[:], uint32(table))
	binary.BigEndian.PutUint32(vbuf[:], uint32(vnode))
	key = append(key, tbuf[:]...)
	key = append(key, vbuf[:]...)
	key = append(key, pk...)
	return key
}

// Commit flushes every staged write as one pebble batch at the table's
// prev epoch, then advances the table to curr. Get and Scan also return
// ErrStorage, for read failures.
func (t *Table) Commit(ctx context.Context, next epoch.Pair) error {
	if len(t.buffer) > 0 {
		batch := t.store.NewBatch()
		for _, rec := range t.buffer {
			key := storeKey(t.table, rec.row.Vnode, rec.row.Key)
			var err error
			switch rec.op {
			case OpInsert:
				err = batch.Set(key, rec.row.Value, nil)
			case OpDelete:
				err = batch.Delete(key, nil)
			}
			if err != nil {
				batch.Close()
				return errors.Wrapf(ErrStorage, "table %s: staging write: %v", t.table, err)
			}
		}
		if err := batch.Commit(pebble.Sync); err != nil {
			return errors.Wrapf(ErrStorage, "table %s: committing batch at epoch %s: %v", t.table, t.epoch, err)
		}
	}
	t.buffer = t.buffer[:0]
	t.epoch = next
	return nil
}

// CommitNoDataExpected advances the epoch without flushing, used when a
// barrier carries no changes for this table (spec.md §4.5 step 6).
func (t *Table) CommitNoDataExpected(next epoch.Pair) {
	if len(t.buffer) != 0 {
		panic("state: commit_no_data_expected called with staged writes pending")
	}
	t.epoch = next
}

// Get reads the value for a key, giving read-your-writes semantics: a
// pending buffered write for (vnode, pk) shadows the committed value, the
// same way a real LSM's mem-table overlay works. Returns (nil, false) if
// the key is absent or the most recent staged write for it is a delete.
func (t *Table) Get(vnode ident.Vnode, pk []byte) ([]byte, bool, error) {
	if value, deleted, staged := t.bufferedValue(vnode, pk); staged {
		if deleted {
			return nil, false, nil
		}
		return value, true, nil
	}

	value, closer, err := t.store.Get(storeKey(t.table, vnode, pk))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(ErrStorage, "table %s: get: %v", t.table, err)
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// bufferedValue returns the most recently staged write for (vnode, pk), if
// any, scanning the buffer newest-first so a later write shadows an
// earlier one for the same key within a single barrier.
func (t *Table) bufferedValue(vnode ident.Vnode, pk []byte) (value []byte, deleted bool, staged bool) {
	for i := len(t.buffer) - 1; i >= 0; i-- {
		rec := t.buffer[i]
		if rec.row.Vnode != vnode || !bytes.Equal(rec.row.Key, pk) {
			continue
		}
		if rec.op == OpDelete {
			return nil, true, true
		}
		return rec.row.Value, false, true
	}
	return nil, false, false
}

// Scan iterates rows for vnode in ascending pk order, calling fn for each
// until fn returns false or the range is exhausted. Like Get, Scan gives
// read-your-writes semantics: buffered writes are merged over the
// committed rows before iterating, so a materialized aggregate call's
// Recompute sees candidate rows staged earlier in the same barrier
// (internal/agg/group.go's writeCandidateRow) without waiting for Commit.
func (t *Table) Scan(vnode ident.Vnode, fn func(pk, value []byte) bool) error {
	merged := make(map[string][]byte)

	lower := storeKey(t.table, vnode, nil)
	upper := storeKey(t.table, vnode+1, nil)
	iter, err := t.store.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return errors.Wrapf(ErrStorage, "table %s: scan: %v", t.table, err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		pk := iter.Key()[8:]
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		merged[string(pk)] = value
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return errors.Wrapf(ErrStorage, "table %s: scan iterator: %v", t.table, err)
	}
	iter.Close()

	for _, rec := range t.buffer {
		if rec.row.Vnode != vnode {
			continue
		}
		key := string(rec.row.Key)
		if rec.op == OpDelete {
			delete(merged, key)
			continue
		}
		merged[key] = rec.row.Value
	}

	pks := make([]string, 0, len(merged))
	for pk := range merged {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	for _, pk := range pks {
		if !fn([]byte(pk), merged[pk]) {
			break
		}
	}
	return nil
}
