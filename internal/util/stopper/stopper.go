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

// Package stopper provides cooperative goroutine lifecycle management,
// adapted from the teacher's stopper.Context (seen driving retireLoop in
// internal/source/cdc/resolver.go and the background dial loop in
// internal/util/stdpool/my.go): a context that also tracks a group of
// goroutines launched through it, so shutdown can wait for them to drain.
package stopper

import (
	"context"
	"sync"
)

// Context wraps a context.Context with a WaitGroup of goroutines spawned
// via Go, so Stop can block until all of them have returned.
type Context struct {
	context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	firstErr error
}

// WithContext wraps parent in a stoppable Context.
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{Context: ctx, cancel: cancel}
}

// Go launches fn in a new goroutine tracked by this Context. If fn
// returns a non-nil error, it is recorded (the first one wins) and the
// Context is canceled, so sibling goroutines observe Done() and can exit.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			if c.firstErr == nil {
				c.firstErr = err
			}
			c.mu.Unlock()
			c.cancel()
		}
	}()
}

// Stop cancels the context and blocks until every goroutine launched via
// Go has returned, then returns the first error any of them reported.
func (c *Context) Stop() error {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstErr
}
