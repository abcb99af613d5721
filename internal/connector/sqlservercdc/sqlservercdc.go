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

// Package sqlservercdc is a boundary stub for a connector.Source reading
// SQL Server's change-tracking tables, grounded on the field naming of
// connector/src/source/cdc/external/sql_server.rs (capture-instance/LSN
// naming, no database I/O implemented here).
package sqlservercdc

import (
	"context"
	"errors"

	"github.com/corestream/corestream/internal/agg"
	"github.com/corestream/corestream/internal/connector"
	"github.com/corestream/corestream/internal/ident"
)

// ErrNotImplemented is returned by every Source method: connector auth
// and database I/O are non-goals, this type only documents the shape a
// real driver would take.
var ErrNotImplemented = errors.New("sqlservercdc: connector I/O not implemented")

// Source reads a capture instance's change table starting from FromLSN.
type Source struct {
	DSN             string
	CaptureInstance string
	FromLSN         []byte
	TableID         ident.TableID
}

var _ connector.Source = (*Source)(nil)

func (s *Source) Schema(ctx context.Context) (connector.Schema, error) {
	return connector.Schema{}, ErrNotImplemented
}

func (s *Source) ReadInto(ctx context.Context, out chan<- agg.Chunk) error {
	close(out)
	return ErrNotImplemented
}
