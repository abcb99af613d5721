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

//go:build debug

package progress

import (
	"testing"

	"github.com/corestream/corestream/internal/ident"
	"github.com/stretchr/testify/assert"
)

// Run with "go test -tags debug ./internal/progress/..." to exercise the
// fatal path; the default build is covered by TestDoubleDoneRejected.
func TestDoubleDoneFatalUnderDebugTag(t *testing.T) {
	actor := ident.ActorID(1)
	p := New([]ident.ActorID{actor}, map[ident.TableID]uint64{1: 1}, 1000, "mv")
	p.Update(actor, DoneState(50), 1000)

	assert.Panics(t, func() {
		p.Update(actor, DoneState(60), 1000)
	})
}
