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

// Package chaostest injects synthetic failures around a connector.Source
// or the hash-aggregation operator's chunk/barrier handling, so recovery
// and exactly-once-commit paths can be exercised without a flaky real
// upstream. It is grounded on the teacher's WithChaos/chaosDialect
// wrapper family (internal/source/logical/chaos.go): a probability-gated
// delegate wrapper around the narrowest interface that needs it, rather
// than one wrapper around the whole Source/Operator surface.
package chaostest

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/corestream/corestream/internal/agg"
	"github.com/corestream/corestream/internal/connector"
	"github.com/corestream/corestream/internal/epoch"
	"github.com/corestream/corestream/internal/ident"
)

// ErrChaos is the error injected by every wrapper in this package.
var ErrChaos = errors.New("chaos")

func doChaos(msg string) error {
	return errors.WithMessage(ErrChaos, msg)
}

// ChunkApplier is the slice of internal/agg.Operator's surface that
// chaosOperator wraps; satisfied by *agg.Operator.
type ChunkApplier interface {
	ApplyChunk(ctx context.Context, vnode ident.Vnode, chunk agg.Chunk) error
}

// BarrierRunner is the slice of internal/agg.Operator's surface that
// chaosRunner wraps; satisfied by *agg.Operator.
type BarrierRunner interface {
	RunBarrierPipeline(ctx context.Context, b epoch.Barrier) error
}

// WithChaosSource wraps a connector.Source so that ReadInto and Schema
// fail with probability prob, returned unwrapped if prob <= 0.
func WithChaosSource(delegate connector.Source, prob float32) connector.Source {
	if prob <= 0 {
		return delegate
	}
	return &chaosSource{delegate: delegate, prob: prob}
}

type chaosSource struct {
	delegate connector.Source
	prob     float32
}

var _ connector.Source = (*chaosSource)(nil)

func (s *chaosSource) Schema(ctx context.Context) (connector.Schema, error) {
	if rand.Float32() < s.prob {
		return connector.Schema{}, doChaos("Schema")
	}
	return s.delegate.Schema(ctx)
}

func (s *chaosSource) ReadInto(ctx context.Context, out chan<- agg.Chunk) error {
	if rand.Float32() < s.prob {
		close(out)
		return doChaos("ReadInto")
	}
	return s.delegate.ReadInto(ctx, out)
}

// chaosApplier wraps a ChunkApplier, failing ApplyChunk with probability
// prob instead of forwarding to delegate. Used to exercise the
// operator's at-least-once redelivery of a chunk across a restart.
type chaosApplier struct {
	delegate ChunkApplier
	prob     float32
}

// WithChaosApplier wraps delegate so ApplyChunk fails with probability
// prob, returned unwrapped if prob <= 0.
func WithChaosApplier(delegate ChunkApplier, prob float32) ChunkApplier {
	if prob <= 0 {
		return delegate
	}
	return &chaosApplier{delegate: delegate, prob: prob}
}

func (c *chaosApplier) ApplyChunk(ctx context.Context, vnode ident.Vnode, chunk agg.Chunk) error {
	if rand.Float32() < c.prob {
		return doChaos("ApplyChunk")
	}
	return c.delegate.ApplyChunk(ctx, vnode, chunk)
}

// chaosRunner wraps a BarrierRunner, failing RunBarrierPipeline with
// probability prob instead of forwarding to delegate. Used to exercise
// that a failed commit never advances the operator's committed epoch.
type chaosRunner struct {
	delegate BarrierRunner
	prob     float32
}

// WithChaosRunner wraps delegate so RunBarrierPipeline fails with
// probability prob, returned unwrapped if prob <= 0.
func WithChaosRunner(delegate BarrierRunner, prob float32) BarrierRunner {
	if prob <= 0 {
		return delegate
	}
	return &chaosRunner{delegate: delegate, prob: prob}
}

func (c *chaosRunner) RunBarrierPipeline(ctx context.Context, b epoch.Barrier) error {
	if rand.Float32() < c.prob {
		return doChaos("RunBarrierPipeline")
	}
	return c.delegate.RunBarrierPipeline(ctx, b)
}
