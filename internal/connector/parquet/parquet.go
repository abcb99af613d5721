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

// Package parquet is a boundary stub for a connector.Source reading
// batched Parquet files, grounded on the field naming of
// connector/src/parser/parquet_parser.rs (row-group batching, no actual
// file decoding implemented here).
package parquet

import (
	"context"
	"errors"

	"github.com/corestream/corestream/internal/agg"
	"github.com/corestream/corestream/internal/connector"
	"github.com/corestream/corestream/internal/ident"
)

// ErrNotImplemented is returned by every Source method: physical
// object-store I/O is a non-goal, this type only documents the shape a
// real driver would take.
var ErrNotImplemented = errors.New("parquet: connector I/O not implemented")

// Source reads row groups from an object-store path, batching rows per
// connector.Source.ReadInto call.
type Source struct {
	// Path is the object-store URI of the Parquet file or directory.
	Path string
	// RowGroupBatch caps how many row groups are buffered into one chunk.
	RowGroupBatch int
	TableID       ident.TableID
}

var _ connector.Source = (*Source)(nil)

func (s *Source) Schema(ctx context.Context) (connector.Schema, error) {
	return connector.Schema{}, ErrNotImplemented
}

func (s *Source) ReadInto(ctx context.Context, out chan<- agg.Chunk) error {
	close(out)
	return ErrNotImplemented
}
