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

package tracker

import (
	"context"

	"github.com/corestream/corestream/internal/ident"
)

// DDLType distinguishes the kind of DDL a CreateStreamingJob command is
// servicing.
type DDLType int

const (
	DDLTypeMaterializedView DDLType = iota
	DDLTypeSink
	DDLTypeTable
	DDLTypeIndex
)

// CreateType distinguishes foreground (client waits for backfill) from
// background (client returns immediately) job creation.
type CreateType int

const (
	CreateForeground CreateType = iota
	CreateBackground
)

// CommandKind classifies the barrier kind a command rides on, used to
// decide whether a job requires a checkpoint before it can finish.
type CommandKind int

const (
	CommandInitial CommandKind = iota
	CommandCheckpoint
	CommandOther
)

// Notifier is told when a tracked job finishes, successfully or not.
// Implementations typically resolve a channel or future the original DDL
// caller is blocked on.
type Notifier interface {
	NotifyFinished()
	NotifyFinishFailed(err error)
}

// CreateStreamingJobCommand carries everything the tracker needs to start
// tracking a CREATE MV (or sink/table/index-backed) job.
type CreateStreamingJobCommand struct {
	TableID ident.TableID

	// ActorsToTrack are the backfill actors belonging to this job. A job
	// with none is "instant-done".
	ActorsToTrack []ident.ActorID

	// UpstreamRootActors maps each upstream materialized view to the root
	// actors of this job that read from it.
	UpstreamRootActors map[ident.TableID][]ident.ActorID

	// DispatchCount maps an upstream root actor to how many downstream
	// dispatchers read from it; used to compute UpstreamMVCount.
	DispatchCount map[ident.ActorID]int

	Definition string
	DDLType    DDLType
	CreateType CreateType
	Kind       CommandKind
}

// IsCheckpointRequired reports whether this command's kind requires a
// checkpoint barrier before the resulting job may finish.
func (c *CreateStreamingJobCommand) IsCheckpointRequired() bool {
	return c.Kind == CommandInitial || c.Kind == CommandCheckpoint
}

// RecoveredFragments is the metadata a Recovered job rebuilds from on
// meta-process restart, in place of the original command context.
type RecoveredFragments struct {
	TableID ident.TableID
	Actors  []ident.ActorID
}

// TrackingJob is either a New job (carrying its original command and
// notifiers) or a Recovered job (rebuilt from persisted fragment
// metadata, with no command context). Modeled as a tagged struct rather
// than an interface: both variants need the same handful of operations
// and Go's zero-interface-method dispatch would just add indirection for
// five fields (see DESIGN.md).
type TrackingJob struct {
	recovered bool

	// New-variant fields.
	command   *CreateStreamingJobCommand
	notifiers []Notifier

	// Recovered-variant fields.
	fragments RecoveredFragments
	finished  Notifier
}

// NewJob wraps a freshly issued command.
func NewJob(cmd *CreateStreamingJobCommand, notifiers []Notifier) TrackingJob {
	return TrackingJob{command: cmd, notifiers: notifiers}
}

// RecoveredJob wraps fragment metadata rebuilt after a meta-process
// restart.
func RecoveredJob(fragments RecoveredFragments, finished Notifier) TrackingJob {
	return TrackingJob{recovered: true, fragments: fragments, finished: finished}
}

// TableID returns the id of the table this job will create.
func (j TrackingJob) TableID() ident.TableID {
	if j.recovered {
		return j.fragments.TableID
	}
	return j.command.TableID
}

// IsCheckpointRequired is true for Recovered jobs (which need persistent
// ordering across the restart) and for New jobs whose command kind is
// Initial or Checkpoint.
func (j TrackingJob) IsCheckpointRequired() bool {
	if j.recovered {
		return true
	}
	return j.command.IsCheckpointRequired()
}

// PreFinish marks the job's table fragments as Created in the catalog.
// For Recovered jobs there is no streaming-job metadata to finish beyond
// the fragment state transition itself.
func (j TrackingJob) PreFinish(ctx context.Context, catalog Catalog) error {
	if catalog == nil {
		return nil
	}
	return catalog.MarkCreated(ctx, j.TableID())
}

// NotifyFinished tells every interested party the job completed.
func (j TrackingJob) NotifyFinished() {
	if j.recovered {
		if j.finished != nil {
			j.finished.NotifyFinished()
		}
		return
	}
	for _, n := range j.notifiers {
		n.NotifyFinished()
	}
}

// NotifyFinishFailed tells every interested party the job failed.
func (j TrackingJob) NotifyFinishFailed(err error) {
	if j.recovered {
		if j.finished != nil {
			j.finished.NotifyFinishFailed(err)
		}
		return
	}
	for _, n := range j.notifiers {
		n.NotifyFinishFailed(err)
	}
}

// Catalog is the meta-process's durable store of table-fragment state.
// It is an external collaborator: the tracker only ever calls MarkCreated
// on it, never owns its schema.
type Catalog interface {
	MarkCreated(ctx context.Context, table ident.TableID) error
}
