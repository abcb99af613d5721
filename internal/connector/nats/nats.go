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

// Package nats is a boundary stub for a connector.Source reading a NATS
// JetStream subject, grounded on the field naming of
// connector/src/source/nats/source/reader.rs (subject/durable-consumer
// naming, no network I/O implemented here).
package nats

import (
	"context"
	"errors"

	"github.com/corestream/corestream/internal/agg"
	"github.com/corestream/corestream/internal/connector"
	"github.com/corestream/corestream/internal/ident"
)

// ErrNotImplemented is returned by every Source method: connector auth
// and network I/O are non-goals, this type only documents the shape a
// real driver would take.
var ErrNotImplemented = errors.New("nats: connector I/O not implemented")

// Source reads a durable JetStream consumer on Subject.
type Source struct {
	ServerURL     string
	Subject       string
	DurableName   string
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
