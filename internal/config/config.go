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

// Package config declares the process-wide configuration and binds it to
// pflag, following the shape of the teacher's internal/source/server
// Config.Bind/Preflight pair.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the top-level configuration for a corestream process, which
// may run the meta-side tracker, a streaming operator, or both depending
// on which backing addresses are set.
type Config struct {
	// MetastoreDSN is the Postgres-compatible DSN backing internal/metastore.
	// Empty disables the tracker's durable catalog (it still runs, but
	// MarkCreated becomes a no-op).
	MetastoreDSN string

	// StateDir is the on-disk directory for the shared pebble store
	// backing internal/state.
	StateDir string

	// BindAddr is where the DDL-progress/metrics HTTP frontend listens.
	BindAddr string

	// ChunkSize bounds the hash-aggregation operator's output chunk
	// builder (spec.md §4.5's "chunk_size").
	ChunkSize int

	// CacheSize is the initial live-entry limit for each operator's group
	// cache, before the first adaptive resize.
	CacheSize int

	// GhostCacheSize is the initial ghost-ring capacity.
	GhostCacheSize int
}

// Bind registers this Config's fields onto flags, mirroring the teacher's
// Config.Bind(flags *pflag.FlagSet).
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.MetastoreDSN, "metastore", "", "DSN of the Postgres-compatible metastore")
	flags.StringVar(&c.StateDir, "state-dir", "./corestream-state", "directory for the shared state store")
	flags.StringVar(&c.BindAddr, "bind-addr", ":26260", "address for the DDL-progress/metrics frontend")
	flags.IntVar(&c.ChunkSize, "chunk-size", 1024, "max rows per emitted output chunk")
	flags.IntVar(&c.CacheSize, "cache-size", 100_000, "initial per-operator group cache size")
	flags.IntVar(&c.GhostCacheSize, "ghost-cache-size", 10_000, "initial per-operator ghost ring size")
}

// Preflight validates the configuration is internally consistent before
// the process starts serving, mirroring the teacher's Config.Preflight.
func (c *Config) Preflight() error {
	if c.StateDir == "" {
		return errors.New("config: state-dir must not be empty")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk-size must be positive")
	}
	if c.CacheSize <= 0 {
		return errors.New("config: cache-size must be positive")
	}
	if c.GhostCacheSize < 0 {
		return errors.New("config: ghost-cache-size must not be negative")
	}
	return nil
}
