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

// Package notify provides a small generic pub/sub cell, adapted from the
// teacher's internal/util/notify.Var[T] (used throughout cdc-sink to let
// goroutines await a resolved timestamp or lease state without polling).
// No package in this tree imports it.
package notify

import "sync"

// Var holds a value of type T and lets goroutines wait for it to change.
type Var[T any] struct {
	mu      sync.Mutex
	value   T
	version int
	changed chan struct{}
}

// New returns a Var seeded with initial.
func New[T any](initial T) *Var[T] {
	return &Var[T]{value: initial, changed: make(chan struct{})}
}

// Get returns the current value and a channel that closes the next time
// Set is called, so callers can select on it to wake up.
func (v *Var[T]) Get() (T, <-chan struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value, v.changed
}

// Set installs a new value and wakes every waiter.
func (v *Var[T]) Set(next T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = next
	v.version++
	close(v.changed)
	v.changed = make(chan struct{})
}

// Peek returns the current value without a wake channel.
func (v *Var[T]) Peek() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}
