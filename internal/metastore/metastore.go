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

// Package metastore persists the handful of durable facts the meta
// process needs across a restart: which table fragments exist and whether
// they have been marked Created. It is the ambient catalog behind
// tracker.Catalog.
//
// The schema/query/upsert shape here is adapted directly from the
// teacher's resolved_table.go (a release-table keyed by endpoint, storing
// a resolved timestamp); this repackages the same read-then-upsert idiom
// around a job-fragment catalog keyed by table id instead of endpoint.
package metastore

import (
	"context"
	"fmt"

	"github.com/corestream/corestream/internal/ident"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const jobsTableSchema = `
CREATE TABLE IF NOT EXISTS %s (
	table_id BIGINT PRIMARY KEY,
	created  BOOLEAN NOT NULL DEFAULT FALSE
)`

const jobsTableQuery = `SELECT created FROM %s WHERE table_id = $1`

const jobsTableUpsert = `
INSERT INTO %[1]s (table_id, created) VALUES ($1, $2)
ON CONFLICT (table_id) DO UPDATE SET created = excluded.created`

const jobsTableDelete = `DELETE FROM %s WHERE table_id = $1`

// Store is a Postgres-compatible (CockroachDB included) catalog of
// in-progress and completed CREATE MV jobs, backing tracker.Catalog.
type Store struct {
	pool      *pgxpool.Pool
	tableName string
}

// Open creates the jobs table if absent and returns a Store bound to it.
func Open(ctx context.Context, pool *pgxpool.Pool, tableName string) (*Store, error) {
	if _, err := pool.Exec(ctx, fmt.Sprintf(jobsTableSchema, tableName)); err != nil {
		return nil, errors.Wrap(err, "metastore: creating jobs table")
	}
	return &Store{pool: pool, tableName: tableName}, nil
}

// MarkCreated implements tracker.Catalog: it records that table's
// fragments have transitioned from Creating to Created.
func (s *Store) MarkCreated(ctx context.Context, table ident.TableID) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(jobsTableUpsert, s.tableName), uint32(table), true)
	return errors.Wrapf(err, "metastore: marking table %s created", table)
}

// IsCreated reports whether table has already been marked Created,
// returning (false, nil) if no row exists yet.
func (s *Store) IsCreated(ctx context.Context, table ident.TableID) (bool, error) {
	var created bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(jobsTableQuery, s.tableName), uint32(table)).Scan(&created)
	switch {
	case err == nil:
		return created, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, errors.Wrapf(err, "metastore: querying table %s", table)
	}
}

// Delete removes a job's catalog row, e.g. on cancellation.
func (s *Store) Delete(ctx context.Context, table ident.TableID) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(jobsTableDelete, s.tableName), uint32(table))
	return errors.Wrapf(err, "metastore: deleting table %s", table)
}
