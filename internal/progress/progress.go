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

// Package progress tracks, per creating materialized view, the backfill
// state of every actor involved and the weighted progress scalar derived
// from it. It is grounded on the CreateMviewProgressTracker's Progress type
// in the original Rust source (src/meta/src/barrier/progress.rs).
package progress

import (
	"fmt"

	"github.com/corestream/corestream/internal/buildtag"
	"github.com/corestream/corestream/internal/epoch"
	"github.com/corestream/corestream/internal/ident"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Kind distinguishes the three states a backfilling actor can be in.
type Kind int

const (
	// Init means no progress has been reported yet.
	Init Kind = iota
	// ConsumingUpstream means the actor is streaming rows from its
	// upstream materialized view.
	ConsumingUpstream
	// Done means the actor finished its backfill.
	Done
)

func (k Kind) String() string {
	switch k {
	case Init:
		return "init"
	case ConsumingUpstream:
		return "consuming"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// BackfillState is one actor's progress through its backfill. The zero
// value is Init.
type BackfillState struct {
	Kind         Kind
	Epoch        epoch.Epoch
	ConsumedRows uint64
}

// ConsumingState builds a ConsumingUpstream state.
func ConsumingState(e epoch.Epoch, consumedRows uint64) BackfillState {
	return BackfillState{Kind: ConsumingUpstream, Epoch: e, ConsumedRows: consumedRows}
}

// DoneState builds a Done state.
func DoneState(consumedRows uint64) BackfillState {
	return BackfillState{Kind: Done, ConsumedRows: consumedRows}
}

// Progress aggregates the BackfillState of every actor participating in
// one creating materialized view.
//
// Invariants (enforced by Update, never by direct field mutation):
//   - DoneCount == |{a | States[a].Kind == Done}|
//   - ConsumedRows == sum of ConsumedRows over actors in Consuming or Done
//   - States is never empty once constructed
type Progress struct {
	States   map[ident.ActorID]BackfillState
	DoneCount int

	// UpstreamMVCount records, for each upstream materialized view this
	// job backfills from, how many times it appears in the job (i.e. how
	// many of the job's actors read from it).
	UpstreamMVCount map[ident.TableID]uint64

	UpstreamTotalKeyCount uint64
	ConsumedRows          uint64
	Definition            string
}

// New constructs a Progress with every actor in Init. actors must be
// non-empty.
func New(
	actors []ident.ActorID,
	upstreamMVCount map[ident.TableID]uint64,
	upstreamTotalKeyCount uint64,
	definition string,
) *Progress {
	if len(actors) == 0 {
		panic("progress: actors must be non-empty")
	}
	states := make(map[ident.ActorID]BackfillState, len(actors))
	for _, a := range actors {
		states[a] = BackfillState{Kind: Init}
	}
	return &Progress{
		States:                states,
		UpstreamMVCount:       upstreamMVCount,
		UpstreamTotalKeyCount: upstreamTotalKeyCount,
		Definition:            definition,
	}
}

// Actors returns the ids of every actor tracked by this Progress.
func (p *Progress) Actors() []ident.ActorID {
	out := make([]ident.ActorID, 0, len(p.States))
	for a := range p.States {
		out = append(out, a)
	}
	return out
}

// Update applies a new BackfillState reported for actor, recomputing
// ConsumedRows and DoneCount. It refuses to transition an actor out of
// Done: reporting Done twice for the same actor is a protocol bug
// upstream, never a legitimate replay. A build tagged "debug" panics on
// it; the default build logs a warning and ignores the report.
func (p *Progress) Update(actor ident.ActorID, newState BackfillState, upstreamTotalKeyCount uint64) {
	p.UpstreamTotalKeyCount = upstreamTotalKeyCount

	old, ok := p.States[actor]
	if !ok {
		panic(fmt.Sprintf("progress: update for untracked actor %s", actor))
	}

	switch old.Kind {
	case Init:
		// nothing to subtract
	case ConsumingUpstream:
		p.ConsumedRows -= old.ConsumedRows
	case Done:
		msg := fmt.Sprintf("progress: actor %s reported Done twice", actor)
		if buildtag.FatalOnProtocolError {
			panic(msg)
		}
		log.WithField("actor", actor).Warn(msg + ", ignoring duplicate report")
		return
	}

	switch newState.Kind {
	case Init:
		// nothing to add
	case ConsumingUpstream:
		p.ConsumedRows += newState.ConsumedRows
	case Done:
		p.ConsumedRows += newState.ConsumedRows
		p.DoneCount++
		log.WithField("actor", actor).Debug("actor finished backfill")
	}

	p.States[actor] = newState
}

// IsDone reports whether every tracked actor has reached Done.
func (p *Progress) IsDone() bool { return p.DoneCount == len(p.States) }

// CalculateProgress returns a scalar in [0, 1]. It is exactly 1.0 iff
// IsDone() or States is empty; otherwise it is clamped to at most 0.99 so
// that a job never appears complete before every actor has reported Done.
func (p *Progress) CalculateProgress() float64 {
	if p.IsDone() || len(p.States) == 0 {
		return 1.0
	}
	denom := p.UpstreamTotalKeyCount
	if denom == 0 {
		denom = 1
	}
	prog := float64(p.ConsumedRows) / float64(denom)
	if prog > 0.99 {
		prog = 0.99
	}
	return prog
}

// FormatPercent renders CalculateProgress as the "XX.XX%" string the DDL
// progress output requires.
func (p *Progress) FormatPercent() string {
	return fmt.Sprintf("%.2f%%", p.CalculateProgress()*100.0)
}

// ErrUntrackedActor is returned by callers (not by Update, which panics)
// when they want to handle an unknown actor gracefully, e.g. the tracker's
// idempotent handling of reports for actors it no longer tracks.
var ErrUntrackedActor = errors.New("progress: untracked actor")
