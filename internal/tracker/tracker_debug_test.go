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

//go:build debug

package tracker

import (
	"testing"

	"github.com/corestream/corestream/internal/ident"
	"github.com/stretchr/testify/assert"
)

// Run with "go test -tags debug ./internal/tracker/...". The default build's
// behavior for these two protocol errors is covered by
// TestDoubleDoneWithinSameTrackedJobIgnoredByDefault and
// TestAddDuplicateTableIDIgnoredByDefault.
func TestDoubleDoneWithinSameTrackedJobFatalUnderDebugTag(t *testing.T) {
	tr := New()
	a1, a2 := ident.ActorID(1), ident.ActorID(2)
	cmd := &CreateStreamingJobCommand{
		TableID:            1,
		ActorsToTrack:      []ident.ActorID{a1, a2},
		UpstreamRootActors: map[ident.TableID][]ident.ActorID{1: {a1, a2}},
		DispatchCount:      map[ident.ActorID]int{a1: 1, a2: 1},
	}
	stats := VersionStats{1: {TotalKeyCount: 10}}
	tr.Add(cmd, nil, stats)

	tr.Update(ProgressReport{BackfillActorID: a1, Done: true, ConsumedRows: 50}, stats)

	assert.Panics(t, func() {
		tr.Update(ProgressReport{BackfillActorID: a1, Done: true, ConsumedRows: 60}, stats)
	})
}

func TestAddDuplicateTableIDFatalUnderDebugTag(t *testing.T) {
	tr := New()
	actor := ident.ActorID(1)
	cmd := &CreateStreamingJobCommand{
		TableID:            1,
		ActorsToTrack:      []ident.ActorID{actor},
		UpstreamRootActors: map[ident.TableID][]ident.ActorID{1: {actor}},
		DispatchCount:      map[ident.ActorID]int{actor: 1},
	}
	stats := VersionStats{1: {TotalKeyCount: 10}}
	tr.Add(cmd, nil, stats)

	assert.Panics(t, func() {
		tr.Add(cmd, nil, stats)
	})
}
