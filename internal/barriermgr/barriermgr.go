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

// Package barriermgr is the single goroutine that owns an
// internal/tracker.Tracker, matching SPEC_FULL.md §5's requirement that
// every mutating Tracker method be called from one goroutine only. It is
// grounded on the teacher's event-loop shape (a single select over a
// handful of request channels): every other goroutine talks to the
// tracker by channel instead of by shared mutex.
package barriermgr

import (
	"context"

	"github.com/corestream/corestream/internal/ident"
	"github.com/corestream/corestream/internal/tracker"
	"github.com/corestream/corestream/internal/util/stopper"
)

type addRequest struct {
	cmd       *tracker.CreateStreamingJobCommand
	notifiers []tracker.Notifier
	stats     tracker.VersionStats
	result    chan *tracker.TrackingJob
}

type updateRequest struct {
	report tracker.ProgressReport
	stats  tracker.VersionStats
	result chan *tracker.TrackingJob
}

type cancelRequest struct {
	table ident.TableID
	done  chan struct{}
}

// Manager serializes every mutation of a Tracker onto one goroutine,
// exposing channel-based entry points that are safe to call concurrently
// from many barrier-handling actors.
type Manager struct {
	t *tracker.Tracker

	adds    chan addRequest
	updates chan updateRequest
	cancels chan cancelRequest
}

// New constructs a Manager wrapping t. Run must be started before any
// entry point is called.
func New(t *tracker.Tracker) *Manager {
	return &Manager{
		t:       t,
		adds:    make(chan addRequest),
		updates: make(chan updateRequest),
		cancels: make(chan cancelRequest),
	}
}

// Run drives the Manager's request loop until stp is stopped. It must be
// launched exactly once, via stp.Go, before Add/Update/Cancel are called.
func (m *Manager) Run(stp *stopper.Context) {
	stp.Go(func() error {
		for {
			select {
			case <-stp.Done():
				return nil
			case req := <-m.adds:
				job := m.t.Add(req.cmd, req.notifiers, req.stats)
				req.result <- job
			case req := <-m.updates:
				job := m.t.Update(req.report, req.stats)
				req.result <- job
			case req := <-m.cancels:
				m.t.CancelCommand(req.table)
				close(req.done)
			}
		}
	})
}

// Add registers cmd for tracking, blocking until the Manager's goroutine
// processes the request or ctx is done.
func (m *Manager) Add(ctx context.Context, cmd *tracker.CreateStreamingJobCommand, notifiers []tracker.Notifier, stats tracker.VersionStats) (*tracker.TrackingJob, error) {
	req := addRequest{cmd: cmd, notifiers: notifiers, stats: stats, result: make(chan *tracker.TrackingJob, 1)}
	select {
	case m.adds <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case job := <-req.result:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Update applies report, blocking until the Manager's goroutine processes
// the request or ctx is done.
func (m *Manager) Update(ctx context.Context, report tracker.ProgressReport, stats tracker.VersionStats) (*tracker.TrackingJob, error) {
	req := updateRequest{report: report, stats: stats, result: make(chan *tracker.TrackingJob, 1)}
	select {
	case m.updates <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case job := <-req.result:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel removes table's tracking state, blocking until the Manager's
// goroutine processes the request or ctx is done.
func (m *Manager) Cancel(ctx context.Context, table ident.TableID) error {
	req := cancelRequest{table: table, done: make(chan struct{})}
	select {
	case m.cancels <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
