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

// Package tracker routes per-actor backfill progress reports to the owning
// CREATE MV job, finalizes jobs (possibly deferred to the next checkpoint
// barrier), and handles cancellation, recovery, and abort.
//
// It is grounded on CreateMviewProgressTracker in the original Rust source
// (src/meta/src/barrier/progress.rs): the per-table-keyed version, which
// spec.md §9 calls out as authoritative over an older per-epoch-keyed one
// found elsewhere in that source tree.
//
// Every mutating method here is called from exactly one goroutine — the
// barrier manager (internal/barriermgr) — so, matching spec.md §5, the
// tracker holds no internal mutex.
package tracker

import (
	"context"
	"fmt"

	"github.com/corestream/corestream/internal/buildtag"
	"github.com/corestream/corestream/internal/epoch"
	"github.com/corestream/corestream/internal/ident"
	"github.com/corestream/corestream/internal/progress"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// TableStat is the piece of Hummock-style version statistics the tracker
// needs: the total number of keys currently in an upstream MV.
type TableStat struct {
	TotalKeyCount uint64
}

// VersionStats is a snapshot of per-table key counts, refreshed by the
// storage layer independently of the tracker.
type VersionStats map[ident.TableID]TableStat

// ProgressReport mirrors the CreateMviewProgress payload an actor attaches
// to a barrier-complete response.
type ProgressReport struct {
	BackfillActorID ident.ActorID
	Done            bool
	ConsumedEpoch   epoch.Epoch
	ConsumedRows    uint64
}

// entry pairs a tracked job's Progress with its TrackingJob metadata.
type entry struct {
	progress *progress.Progress
	job      TrackingJob
}

// Tracker is the Create-MView Progress Tracker (C7).
type Tracker struct {
	progressMap map[ident.TableID]*entry
	actorMap    map[ident.ActorID]ident.TableID
	finished    []TrackingJob
}

// New returns an empty Tracker, used when the meta process starts with no
// in-flight creating jobs.
func New() *Tracker {
	return &Tracker{
		progressMap: make(map[ident.TableID]*entry),
		actorMap:    make(map[ident.ActorID]ident.TableID),
	}
}

// RecoverInput is the per-job metadata the meta process reconstructs from
// persisted state on restart.
type RecoverInput struct {
	TableID          ident.TableID
	Actors           []ident.ActorID
	UpstreamMVCount  map[ident.TableID]uint64
	Definition       string
	FinishedNotifier Notifier
}

// Recover rebuilds the tracker's state from persisted metadata. Every
// actor starts in ConsumingUpstream(epoch.Zero, 0); DoneCount and
// ConsumedRows stay at zero until the first barrier carries a real report,
// matching the original's recover().
func Recover(jobs []RecoverInput, versionStats VersionStats) *Tracker {
	t := New()
	for _, in := range jobs {
		if len(in.Actors) == 0 {
			continue
		}
		states := make(map[ident.ActorID]progress.BackfillState, len(in.Actors))
		for _, a := range in.Actors {
			t.actorMap[a] = in.TableID
			states[a] = progress.ConsumingState(epoch.Zero, 0)
		}

		var totalKeyCount uint64
		for upstream, count := range in.UpstreamMVCount {
			totalKeyCount += count * versionStats[upstream].TotalKeyCount
		}

		p := &progress.Progress{
			States:                states,
			UpstreamMVCount:       in.UpstreamMVCount,
			UpstreamTotalKeyCount: totalKeyCount,
			Definition:            in.Definition,
		}

		t.progressMap[in.TableID] = &entry{
			progress: p,
			job:      RecoveredJob(RecoveredFragments{TableID: in.TableID, Actors: in.Actors}, in.FinishedNotifier),
		}
	}
	return t
}

// Add registers a new CreateStreamingJobCommand for tracking. It returns a
// non-nil TrackingJob immediately when the job needs no further tracking:
// either it has no backfill actors ("instant-done"), or it is a
// background sink, which is decoupled from backfill completion. Otherwise
// it registers the job and returns nil.
func (t *Tracker) Add(cmd *CreateStreamingJobCommand, notifiers []Notifier, versionStats VersionStats) *TrackingJob {
	if len(cmd.ActorsToTrack) == 0 {
		job := NewJob(cmd, notifiers)
		return &job
	}

	upstreamMVCount := make(map[ident.TableID]uint64, len(cmd.UpstreamRootActors))
	for upstream, actors := range cmd.UpstreamRootActors {
		if len(actors) == 0 {
			panic("tracker: upstream root actor list must be non-empty")
		}
		var dispatchTotal int
		for _, a := range actors {
			dispatchTotal += cmd.DispatchCount[a]
		}
		upstreamMVCount[upstream] = uint64(dispatchTotal / len(actors))
	}

	var upstreamTotalKeyCount uint64
	for upstream, count := range upstreamMVCount {
		upstreamTotalKeyCount += count * versionStats[upstream].TotalKeyCount
	}

	for _, a := range cmd.ActorsToTrack {
		t.actorMap[a] = cmd.TableID
	}

	p := progress.New(cmd.ActorsToTrack, upstreamMVCount, upstreamTotalKeyCount, cmd.Definition)

	if cmd.DDLType == DDLTypeSink && cmd.CreateType == CreateBackground {
		// Sink jobs are decoupled from backfill completion: the caller
		// already has what it needs (the notifiers), so hand the job back
		// without inserting it into progress_map.
		job := NewJob(cmd, notifiers)
		return &job
	}

	if _, exists := t.progressMap[cmd.TableID]; exists {
		msg := fmt.Sprintf("tracker: duplicate table_id %s added for tracking", cmd.TableID)
		if buildtag.FatalOnProtocolError {
			panic(msg)
		}
		log.WithField("table", cmd.TableID).Warn(msg + ", keeping the existing entry")
		return nil
	}
	t.progressMap[cmd.TableID] = &entry{progress: p, job: NewJob(cmd, notifiers)}
	return nil
}

// Update applies one actor's progress report. If the owning job is
// unknown — a recovery race, not a bug — it logs and returns nil rather
// than crashing. If the update completes the job, its TrackingJob is
// unregistered and returned.
func (t *Tracker) Update(report ProgressReport, versionStats VersionStats) *TrackingJob {
	tableID, ok := t.actorMap[report.BackfillActorID]
	if !ok {
		log.WithField("actor", report.BackfillActorID).Info(
			"no tracked progress for actor, the stream job could already be finished")
		return nil
	}

	e, ok := t.progressMap[tableID]
	if !ok {
		log.WithFields(log.Fields{
			"actor": report.BackfillActorID,
			"table": tableID,
		}).Warn("update for a non-existent creating streaming job, it could be cancelled")
		return nil
	}

	var newState progress.BackfillState
	if report.Done {
		newState = progress.DoneState(report.ConsumedRows)
	} else {
		newState = progress.ConsumingState(report.ConsumedEpoch, report.ConsumedRows)
	}

	var upstreamTotalKeyCount uint64
	for upstream, count := range e.progress.UpstreamMVCount {
		if count == 0 {
			msg := fmt.Sprintf("tracker: upstream_mv_count[%s] must be nonzero", upstream)
			if buildtag.FatalOnProtocolError {
				panic(msg)
			}
			log.WithField("upstream", upstream).Warn(msg + ", treating its contribution as zero")
			continue
		}
		upstreamTotalKeyCount += count * versionStats[upstream].TotalKeyCount
	}

	e.progress.Update(report.BackfillActorID, newState, upstreamTotalKeyCount)

	if !e.progress.IsDone() {
		return nil
	}

	log.WithField("table", tableID).Debug("all actors done for creating mview")
	for _, a := range e.progress.Actors() {
		delete(t.actorMap, a)
	}
	delete(t.progressMap, tableID)
	job := e.job
	return &job
}

// StashCommandToFinish defers a job's notification until the next call to
// FinishJobs that accepts it (on a checkpoint barrier, or on any barrier if
// the job is not checkpoint-required).
func (t *Tracker) StashCommandToFinish(job TrackingJob) {
	t.finished = append(t.finished, job)
}

// FinishJobs drains every stashed job eligible to finish given whether
// this barrier was a checkpoint, calling PreFinish then NotifyFinished on
// each. It returns whether any stashed jobs remain pending.
func (t *Tracker) FinishJobs(ctx context.Context, checkpoint bool, catalog Catalog) (pending bool, err error) {
	remaining := t.finished[:0]
	for _, job := range t.finished {
		if !checkpoint && job.IsCheckpointRequired() {
			remaining = append(remaining, job)
			continue
		}
		if err := job.PreFinish(ctx, catalog); err != nil {
			return false, errors.Wrapf(err, "pre_finish for table %s", job.TableID())
		}
		job.NotifyFinished()
	}
	t.finished = remaining
	return len(t.finished) > 0, nil
}

// CancelCommand removes a tracked (not yet finished) job and purges its
// actor-map entries. It is a no-op if the job is unknown.
func (t *Tracker) CancelCommand(table ident.TableID) {
	if _, ok := t.progressMap[table]; ok {
		for actor, owner := range t.actorMap {
			if owner == table {
				delete(t.actorMap, actor)
			}
		}
		delete(t.progressMap, table)
	}

	kept := t.finished[:0]
	for _, job := range t.finished {
		if job.TableID() != table {
			kept = append(kept, job)
		}
	}
	t.finished = kept
}

// AbortAll notifies every tracked and stashed job of fatal failure, then
// clears all tracker state. This is the only way the tracker surfaces a
// failure that isn't scoped to a single job.
func (t *Tracker) AbortAll(err error) {
	for _, job := range t.finished {
		job.NotifyFinishFailed(err)
	}
	for _, e := range t.progressMap {
		e.job.NotifyFinishFailed(err)
	}
	t.actorMap = make(map[ident.ActorID]ident.TableID)
	t.progressMap = make(map[ident.TableID]*entry)
	t.finished = nil
}

// DDLProgress is one row of gen_ddl_progress()'s output.
type DDLProgress struct {
	ID        ident.TableID
	Statement string
	Progress  string // "XX.XX%"
}

// GenDDLProgress snapshots the current progress of every tracked job, for
// display via SHOW, e.g. to a SQL-frontend DDL progress view.
func (t *Tracker) GenDDLProgress() map[ident.TableID]DDLProgress {
	out := make(map[ident.TableID]DDLProgress, len(t.progressMap))
	for table, e := range t.progressMap {
		out[table] = DDLProgress{
			ID:        table,
			Statement: e.progress.Definition,
			Progress:  e.progress.FormatPercent(),
		}
	}
	return out
}

// ownerOf reports the table_id owning actor, and whether it is tracked at
// all; an unexported helper for tests that assert the §8
// actor_map/progress_map invariant.
func (t *Tracker) ownerOf(actor ident.ActorID) (ident.TableID, bool) {
	table, ok := t.actorMap[actor]
	return table, ok
}
