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

// Package stdpool opens the long-lived connection pools the meta process
// needs (the pgx pool backing internal/metastore, the pebble store
// backing internal/state), following the retry-ping-and-Option-pattern
// shape of the teacher's internal/util/stdpool/my.go OpenMySQLAsTarget.
package stdpool

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/corestream/corestream/internal/util/stopper"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Option configures a pool opener, mirroring the teacher's attachOptions
// idiom.
type Option interface {
	apply(*options)
}

type options struct {
	pingInterval time.Duration
	pingAttempts int
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithPingRetry configures how many times, and how often, to retry an
// initial connectivity check before giving up.
func WithPingRetry(attempts int, interval time.Duration) Option {
	return optionFunc(func(o *options) {
		o.pingAttempts = attempts
		o.pingInterval = interval
	})
}

func attachOptions(opts []Option) options {
	o := options{pingAttempts: 1, pingInterval: time.Second}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return o
}

// OpenMetastore opens a pgx pool for internal/metastore, retry-pinging it
// the configured number of times before returning an error.
func OpenMetastore(ctx context.Context, dsn string, opts ...Option) (*pgxpool.Pool, error) {
	o := attachOptions(opts)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "stdpool: creating metastore pool")
	}

	var pingErr error
	for attempt := 1; attempt <= o.pingAttempts; attempt++ {
		if pingErr = pool.Ping(ctx); pingErr == nil {
			return pool, nil
		}
		log.WithError(pingErr).WithField("attempt", attempt).Warn("stdpool: metastore ping failed, retrying")
		select {
		case <-time.After(o.pingInterval):
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		}
	}
	pool.Close()
	return nil, errors.Wrapf(pingErr, "stdpool: metastore unreachable after %d attempts", o.pingAttempts)
}

// OpenStateStore opens the shared pebble instance backing internal/state,
// and launches a goroutine under stp that closes it once stp is stopped,
// so shutdown can wait for a clean close. Nothing in this tree calls it.
func OpenStateStore(stp *stopper.Context, dir string) (*pebble.DB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "stdpool: opening state store at %s", dir)
	}
	stp.Go(func() error {
		<-stp.Done()
		return db.Close()
	})
	return db, nil
}
