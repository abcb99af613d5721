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

package cache

import "math"

// DefaultBucketTarget is the fixed small bucket-count constant B referred
// to by spec.md §4.2's resize formulas.
const DefaultBucketTarget = 10

// DefaultGhostCapMultiple is the ghost-ring-to-live-entry ratio this cache
// uses in place of the original's avg-kv-size-bounded multiple (the source
// narrows ghost_cap_multiple between 1 and a default using a running
// average key/value byte size this cache never tracks; lacking that signal,
// PlanResize uses the fixed default multiple unconditionally).
const DefaultGhostCapMultiple = 10

// ResizePlan is the outcome of running the adaptive-sizing policy for one
// barrier: the bucket sizes and ghost-ring capacity the operator should
// hand to SetGhostCap-style calls, computed from the live entry count n and
// the current ghost capacity. GhostCap is the capacity itself
// (ghostCapMultiple*n); GhostBucketSize is unrelated to capacity — it only
// sizes the reuse-distance histogram bucket width.
type ResizePlan struct {
	BucketSize      int
	GhostBucketSize int
	GhostStart      int
	GhostCap        int
}

// PlanResize computes spec.md §4.2's adaptive bucket sizing:
//
//	bucket_size      = max(1, round(1.1*n/B))
//	ghost_bucket_size = max(1, round((0.3*n + ghostCap)/B))
//	ghost_start       = max(1, round(0.8*n))
//	ghost_cap         = ghostCapMultiple * n
func PlanResize(n, ghostCap, bucketTarget int) ResizePlan {
	return PlanResizeWithMultiple(n, ghostCap, bucketTarget, DefaultGhostCapMultiple)
}

// PlanResizeWithMultiple is PlanResize with an explicit ghost-cap multiple,
// mirroring the original's ghost_cap_multiple * entry_count (hash_agg.rs's
// update_bucket_size), for callers that track their own ratio.
func PlanResizeWithMultiple(n, ghostCap, bucketTarget, ghostCapMultiple int) ResizePlan {
	if bucketTarget < 1 {
		bucketTarget = DefaultBucketTarget
	}
	if ghostCapMultiple < 1 {
		ghostCapMultiple = DefaultGhostCapMultiple
	}
	round := func(f float64) int {
		v := int(math.Round(f))
		if v < 1 {
			return 1
		}
		return v
	}
	return ResizePlan{
		BucketSize:      round(1.1 * float64(n) / float64(bucketTarget)),
		GhostBucketSize: round((0.3*float64(n) + float64(ghostCap)) / float64(bucketTarget)),
		GhostStart:      round(0.8 * float64(n)),
		GhostCap:        ghostCapMultiple * n,
	}
}

// ShouldResize reports whether the entry count has moved far enough from
// the reference count to justify recomputing a ResizePlan: a ±20% swing,
// and only once the count itself is above 100 (spec.md §4.2).
func ShouldResize(current, reference int) bool {
	if current <= 100 {
		return false
	}
	if reference == 0 {
		return true
	}
	delta := math.Abs(float64(current-reference)) / float64(reference)
	return delta >= 0.2
}
