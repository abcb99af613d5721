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

// Package connector declares the boundary the hash-aggregation operator
// reads chunks across, without implementing connector authentication or
// physical object-store/network I/O (those are out of scope). It also
// caches the upstream schema each Source reports, since re-parsing a
// schema on every chunk would dominate connector overhead on wide tables.
package connector

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corestream/corestream/internal/agg"
	"github.com/corestream/corestream/internal/ident"
)

// Schema is the column layout a Source reports once before streaming
// chunks, named after the field conventions in the parquet/NATS/SQL
// Server CDC parsers this package is grounded on.
type Schema struct {
	TableID ident.TableID
	Columns []string
}

// Source is the interface internal/agg.Operator reads upstream chunks
// through. Concrete drivers below are named boundary stubs: wiring them
// to real I/O is out of scope here (connector auth and object-store I/O
// are explicit non-goals), but the interface and their field shapes are
// what cmd/corestream and internal/wiring assemble against.
type Source interface {
	// Schema returns the column layout this source produces, read once
	// before the first ReadInto call.
	Schema(ctx context.Context) (Schema, error)

	// ReadInto streams chunks onto out until ctx is done or the upstream
	// is exhausted, closing out before returning.
	ReadInto(ctx context.Context, out chan<- agg.Chunk) error
}

// SchemaCache memoizes a Source's Schema() result keyed by table, so a
// reconnecting source doesn't force every dependent operator to re-derive
// column layout.
type SchemaCache struct {
	cache *lru.Cache[ident.TableID, Schema]
}

// NewSchemaCache returns a SchemaCache holding up to size entries.
func NewSchemaCache(size int) *SchemaCache {
	c, err := lru.New[ident.TableID, Schema](size)
	if err != nil {
		// lru.New only errors on size <= 0, which is a caller bug.
		panic(err)
	}
	return &SchemaCache{cache: c}
}

// Get returns the cached schema for table, fetching and caching it from
// src on a miss.
func (c *SchemaCache) Get(ctx context.Context, table ident.TableID, src Source) (Schema, error) {
	if s, ok := c.cache.Get(table); ok {
		return s, nil
	}
	s, err := src.Schema(ctx)
	if err != nil {
		return Schema{}, err
	}
	c.cache.Add(table, s)
	return s, nil
}
