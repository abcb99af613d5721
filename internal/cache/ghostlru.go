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

// Package cache implements the Indexed LRU with Ghost (C2): a bounded
// K→V map with epoch-tagged entries and a key-only ghost ring feeding a
// reuse-distance histogram, used by the aggregation operator to size
// itself adaptively each barrier.
//
// The doubly-linked-list-plus-map skeleton follows golang-lru/v2's
// simplelru; the ghost ring is modeled directly on hashicorp's arc/v2,
// whose ARCCache keeps two "recently evicted" ghost lists (B1, B2) of
// keys-only to decide whether an entry should have stayed cached. This
// cache keeps one ghost list instead of ARC's two (there's only one real
// list here, not a recency/frequency split) and adds the reuse-distance
// histogram and sampling spec.md asks for, which neither library has.
package cache

import (
	"container/list"
	"fmt"
	"hash/maphash"
)

// sampleMod is the sampling denominator: per spec.md §4.2, only ~1 in
// ~200 lookups contribute to the reuse-distance histogram.
const sampleMod = 200

var seed = maphash.MakeSeed()

type entry[K comparable, V any] struct {
	key   K
	value V
	epoch int64
}

type ghostEntry[K comparable] struct {
	key       K
	evictedAt int64 // global eviction sequence number at time of ghost insertion
}

// Stats is a snapshot of the reuse-distance histogram, bucketed as
// spec.md's adaptive-resize formulas expect.
type Stats struct {
	Buckets      []uint64 // live-entry reuse histogram
	GhostBuckets []uint64 // ghost-hit reuse-distance histogram
}

// Cache is the Indexed LRU with Ghost (C2). It is not goroutine-safe: per
// spec.md §5, each operator's cache is touched by exactly one cooperative
// task.
type Cache[K comparable, V any] struct {
	limit int

	ll    *list.List // of *entry[K,V], front = most recently used
	items map[K]*list.Element

	ghostCap int
	ghostLL  *list.List // of *ghostEntry[K], front = most recently evicted
	ghosts   map[K]*list.Element

	curEpoch      int64
	evictSeq      int64 // monotonically increasing count of unique keys ever evicted
	bucketCount   int
	ghostBuckets  int
	buckets       []uint64
	ghostHistBkts []uint64
}

// New constructs a Cache bounded at limit live entries and ghostCap ghost
// entries, with bucketCount buckets for both histograms.
func New[K comparable, V any](limit, ghostCap, bucketCount int) *Cache[K, V] {
	if bucketCount < 1 {
		bucketCount = 1
	}
	return &Cache[K, V]{
		limit:         limit,
		ll:            list.New(),
		items:         make(map[K]*list.Element, limit),
		ghostCap:      ghostCap,
		ghostLL:       list.New(),
		ghosts:        make(map[K]*list.Element, ghostCap),
		bucketCount:   bucketCount,
		ghostBuckets:  bucketCount,
		buckets:       make([]uint64, bucketCount),
		ghostHistBkts: make([]uint64, bucketCount),
	}
}

// UpdateEpoch tags every touch from here forward with e, so that
// EvictExceptCurEpoch can protect entries accessed during epoch e. The
// aggregation operator calls it only on its initial barrier.
func (c *Cache[K, V]) UpdateEpoch(e int64) {
	c.curEpoch = e
}

// sampleKey reports whether k should contribute to the histogram this
// lookup, using a stable per-key hash so sampling is deterministic for a
// given key rather than jittering with a random source.
func sampleKey[K comparable](k K) bool {
	h := new(maphash.Hash)
	h.SetSeed(seed)
	if s, ok := any(k).(fmt.Stringer); ok {
		h.WriteString(s.String())
	} else if s, ok := any(k).(string); ok {
		h.WriteString(s)
	} else {
		// Any named string type (GroupKey included) lands here since a
		// type switch on `any(k)` matches the exact dynamic type, not its
		// underlying type; %v on a string-kinded value still prints the
		// raw string, so hashing stays stable per key.
		h.WriteString(fmt.Sprintf("%v", k))
	}
	return h.Sum64()%sampleMod == 0
}

// bucketFor maps a reuse distance into one of n buckets using a log-ish
// scale so small distances (the common case) get finer resolution than
// large ones.
func bucketFor(distance int64, n int) int {
	if distance <= 0 {
		return 0
	}
	b := 0
	for d := distance; d > 1 && b < n-1; d >>= 1 {
		b++
	}
	return b
}

// ContainsSampled reports whether k is currently cached. If sample is true
// (or nil and the key is chosen by sampleKey), a miss that finds k in the
// ghost ring also returns its reuse distance and true for is_ghost.
func (c *Cache[K, V]) ContainsSampled(k K, sample *bool) (hit bool, distance int64, isGhost bool) {
	if _, ok := c.items[k]; ok {
		return true, 0, false
	}
	doSample := sampleKey(k)
	if sample != nil {
		doSample = *sample
	}
	if !doSample {
		return false, 0, false
	}
	if el, ok := c.ghosts[k]; ok {
		ge := el.Value.(*ghostEntry[K])
		dist := c.evictSeq - ge.evictedAt
		c.ghostHistBkts[bucketFor(dist, c.ghostBuckets)]++
		return false, dist, true
	}
	return false, 0, false
}

// Put inserts or updates k, marking it most-recently-used at the current
// epoch, and removing it from the ghost ring if present there.
func (c *Cache[K, V]) Put(k K, v V) {
	if el, ok := c.items[k]; ok {
		el.Value.(*entry[K, V]).value = v
		el.Value.(*entry[K, V]).epoch = c.curEpoch
		c.ll.MoveToFront(el)
		return
	}
	if el, ok := c.ghosts[k]; ok {
		c.ghostLL.Remove(el)
		delete(c.ghosts, k)
	}
	el := c.ll.PushFront(&entry[K, V]{key: k, value: v, epoch: c.curEpoch})
	c.items[k] = el
}

// PeekMut returns a pointer to k's value for in-place mutation without
// changing its LRU position, and whether k was present.
//
// The caller must not retain the pointer across a suspension point; this
// mirrors peek_mut_unsafe's contract (spec.md §4.2) without requiring an
// unsafe escape hatch in Go, since callers here simply promise not to.
func (c *Cache[K, V]) PeekMut(k K) (*V, bool) {
	el, ok := c.items[k]
	if !ok {
		return nil, false
	}
	return &el.Value.(*entry[K, V]).value, true
}

// PeekMutUnsafe is the same operation named to match spec.md's two
// entry points; Go has no separate unsafe-aliasing variant, so this is an
// alias of PeekMut. The aggregation operator calls PeekMut only.
func (c *Cache[K, V]) PeekMutUnsafe(k K) (*V, bool) {
	return c.PeekMut(k)
}

// Len returns the number of live entries.
func (c *Cache[K, V]) Len() int { return c.ll.Len() }

// BucketCount returns the number of live-entry histogram buckets.
func (c *Cache[K, V]) BucketCount() int { return c.bucketCount }

// GhostBucketCount returns the number of ghost-histogram buckets.
func (c *Cache[K, V]) GhostBucketCount() int { return c.ghostBuckets }

// GhostCap returns the current ghost-ring capacity.
func (c *Cache[K, V]) GhostCap() int { return c.ghostCap }

// SetGhostCap resizes the ghost ring, trimming from the back (oldest
// ghosts) if it shrinks below the current occupancy.
func (c *Cache[K, V]) SetGhostCap(cap int) {
	c.ghostCap = cap
	for c.ghostLL.Len() > c.ghostCap {
		c.evictOldestGhost()
	}
}

// UpdateSizeLimit changes the live-entry capacity. It does not itself
// evict; callers call Evict afterward to reach the new target.
func (c *Cache[K, V]) UpdateSizeLimit(limit int) {
	c.limit = limit
}

// Evict removes least-recently-used entries until Len() <= the current
// size limit, pushing each evicted key into the ghost ring.
func (c *Cache[K, V]) Evict() {
	for c.ll.Len() > c.limit {
		c.evictOldest()
	}
}

// EvictExceptCurEpoch evicts LRU entries down to the size limit, but
// skips (and re-queues to the front) any entry tagged with the current
// epoch, protecting rows touched since the last barrier from eviction
// pressure applied between barriers (spec.md §4.2 point 1).
func (c *Cache[K, V]) EvictExceptCurEpoch() {
	var skipped []*list.Element
	for c.ll.Len()-len(skipped) > c.limit {
		back := c.ll.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry[K, V])
		if e.epoch == c.curEpoch {
			c.ll.MoveToFront(back)
			skipped = append(skipped, back)
			if len(skipped) >= c.ll.Len() {
				break
			}
			continue
		}
		c.removeElement(back)
	}
}

func (c *Cache[K, V]) evictOldest() {
	back := c.ll.Back()
	if back == nil {
		return
	}
	c.removeElement(back)
}

func (c *Cache[K, V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[K, V])
	c.ll.Remove(el)
	delete(c.items, e.key)

	c.evictSeq++
	gel := c.ghostLL.PushFront(&ghostEntry[K]{key: e.key, evictedAt: c.evictSeq})
	c.ghosts[e.key] = gel
	if c.ghostLL.Len() > c.ghostCap {
		c.evictOldestGhost()
	}
}

func (c *Cache[K, V]) evictOldestGhost() {
	back := c.ghostLL.Back()
	if back == nil {
		return
	}
	ge := back.Value.(*ghostEntry[K])
	c.ghostLL.Remove(back)
	delete(c.ghosts, ge.key)
}

// Clear discards every live and ghost entry, used when UpdateVnodeBitmap
// makes the existing cache contents potentially stale (spec.md §4.5).
func (c *Cache[K, V]) Clear() {
	c.ll.Init()
	c.items = make(map[K]*list.Element)
	c.ghostLL.Init()
	c.ghosts = make(map[K]*list.Element)
	for i := range c.buckets {
		c.buckets[i] = 0
	}
	for i := range c.ghostHistBkts {
		c.ghostHistBkts[i] = 0
	}
}

// Stats snapshots and resets the sampled histograms, matching the "reset
// sampled histograms" step of the per-barrier pipeline (spec.md §4.5
// step 1).
func (c *Cache[K, V]) Stats() Stats {
	out := Stats{
		Buckets:      append([]uint64(nil), c.buckets...),
		GhostBuckets: append([]uint64(nil), c.ghostHistBkts...),
	}
	for i := range c.buckets {
		c.buckets[i] = 0
	}
	for i := range c.ghostHistBkts {
		c.ghostHistBkts[i] = 0
	}
	return out
}
