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

// Package frontend declares the boundary a SQL frontend hands a parsed
// CREATE MATERIALIZED VIEW statement across, without implementing SQL
// parsing or planning (those are out of scope). It exists so
// internal/tracker.Add has a caller-facing entry point to be invoked
// through, grounded on the handler naming of
// handler/close_cursor.rs and the "planner hands the executor a
// definition string" shape of plan_node/stream_project_set.rs.
package frontend

import (
	"context"
	"errors"

	"github.com/corestream/corestream/internal/ident"
)

// ErrNotImplemented is returned by every Handler method here: SQL parsing
// and planning are non-goals, this type only documents the call shape a
// real frontend would use to reach internal/tracker.
var ErrNotImplemented = errors.New("frontend: SQL planning not implemented")

// Handler is what a SQL frontend calls once it has parsed a DDL
// statement into a definition string.
type Handler interface {
	// HandleCreateMV registers definition for backfill tracking,
	// returning the table_id the meta process assigned it.
	HandleCreateMV(ctx context.Context, definition string) (ident.TableID, error)

	// ShowDDLProgress renders the "XX.XX%" progress line for table, the
	// counterpart of internal/tracker.Tracker.GenDDLProgress for a single
	// statement, as SHOW DDL PROGRESS/SHOW CREATE MATERIALIZED VIEW
	// would query it.
	ShowDDLProgress(ctx context.Context, table ident.TableID) (string, error)
}

// stubHandler documents the interface's call shape without performing
// planning; cmd/corestream wires a real Handler once a SQL frontend
// exists.
type stubHandler struct{}

// NewStubHandler returns a Handler that always reports
// ErrNotImplemented, for callers that need something satisfying the
// interface before a real frontend is wired in.
func NewStubHandler() Handler { return stubHandler{} }

func (stubHandler) HandleCreateMV(ctx context.Context, definition string) (ident.TableID, error) {
	return 0, ErrNotImplemented
}

func (stubHandler) ShowDDLProgress(ctx context.Context, table ident.TableID) (string, error) {
	return "", ErrNotImplemented
}
