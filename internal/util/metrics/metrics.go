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

// Package metrics centralizes the promauto collectors defined for the
// tracker and the aggregation operator, following the shape of the
// teacher's internal/staging/stage/metrics.go (HistogramVec/CounterVec
// pairs registered once at package init). No package in this tree imports
// metrics, so these collectors are registered but never updated.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets mirrors the teacher's default histogram bucket set for
// sub-second to multi-second operations.
var LatencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

var (
	// TrackerProgressReports counts per-actor progress reports routed by
	// the Create-MView Progress Tracker.
	TrackerProgressReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corestream",
		Subsystem: "tracker",
		Name:      "progress_reports_total",
		Help:      "Number of CreateMviewProgress reports routed by the tracker.",
	}, []string{"done"})

	// TrackerJobsFinished counts jobs the tracker has finished, labeled by
	// outcome.
	TrackerJobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corestream",
		Subsystem: "tracker",
		Name:      "jobs_finished_total",
		Help:      "Number of CREATE MV jobs finished by the tracker.",
	}, []string{"outcome"})

	// AggCommitDuration measures how long a barrier's backing-table commit
	// takes per operator table_id.
	AggCommitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "corestream",
		Subsystem: "agg",
		Name:      "commit_duration_seconds",
		Help:      "Time spent committing backing tables on a barrier.",
		Buckets:   LatencyBuckets,
	}, []string{"table_id"})

	// AggCacheLookups counts cache probes, labeled by hit/ghost-hit/miss.
	AggCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corestream",
		Subsystem: "agg",
		Name:      "cache_lookups_total",
		Help:      "Number of group-cache lookups by outcome.",
	}, []string{"table_id", "outcome"})
)
