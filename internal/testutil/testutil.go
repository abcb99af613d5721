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

// Package testutil holds fixtures shared by more than one package's
// tests, following the shape of the teacher's sinktest fixtures: an
// in-memory backing store any package can open a state.Table against
// without a real on-disk pebble directory or database.
package testutil

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// MemStore opens an in-memory pebble instance, closed automatically when
// t finishes.
func MemStore(t *testing.T) *pebble.DB {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("testutil: opening in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
