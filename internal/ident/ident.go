// Package ident defines the small, stable integer identifiers that tie the
// rest of the system together: actors, fragments, and the tables that back
// materialized views. Everything else is modeled as a plain map keyed by
// one of these ids rather than as a graph of pointers, so that mutation is
// always "look up by id, replace the value" (see DESIGN.md).
package ident

import "fmt"

// ActorID identifies a single task within a streaming fragment.
type ActorID uint32

// String implements fmt.Stringer.
func (a ActorID) String() string { return fmt.Sprintf("actor#%d", uint32(a)) }

// TableID identifies the materialized view (or internal state table)
// produced by a fragment. A creating job is addressed by the TableID of
// the MV it will eventually produce.
type TableID uint32

// String implements fmt.Stringer.
func (t TableID) String() string { return fmt.Sprintf("table#%d", uint32(t)) }

// FragmentID identifies a group of actors executing the same dataflow
// node, one per vnode-partition of the fragment.
type FragmentID uint32

// String implements fmt.Stringer.
func (f FragmentID) String() string { return fmt.Sprintf("fragment#%d", uint32(f)) }

// Vnode is a virtual partition index of a table.
type Vnode uint32

// VnodeBitmap records which vnodes a replica currently owns.
type VnodeBitmap struct {
	bits map[Vnode]struct{}
}

// NewVnodeBitmap builds a bitmap containing exactly the given vnodes.
func NewVnodeBitmap(vnodes ...Vnode) VnodeBitmap {
	b := VnodeBitmap{bits: make(map[Vnode]struct{}, len(vnodes))}
	for _, v := range vnodes {
		b.bits[v] = struct{}{}
	}
	return b
}

// Contains reports whether v is owned by this bitmap.
func (b VnodeBitmap) Contains(v Vnode) bool {
	_, ok := b.bits[v]
	return ok
}

// Len returns the number of owned vnodes.
func (b VnodeBitmap) Len() int { return len(b.bits) }

// MayStale reports whether transitioning from prev to next could leave
// cached data keyed by a vnode the replica no longer owns, i.e. some vnode
// in prev is absent from next.
func MayStale(prev, next VnodeBitmap) bool {
	for v := range prev.bits {
		if !next.Contains(v) {
			return true
		}
	}
	return false
}
