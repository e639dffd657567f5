/*
Copyright 2026 The Sensorpipe Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sensorpipe/sensorpipe/pkg/metrics"
)

// eventsFolded counts inserts folded into an aggregate snapshot.
var eventsFolded = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "aggregator",
	Name:      "events_folded_total",
	Help:      "Total number of change events folded into aggregates",
}, []string{metrics.LabelPartition})

// eventsDiscarded counts non-INSERT events.
var eventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "aggregator",
	Name:      "events_discarded_total",
	Help:      "Total number of non-insert change events discarded",
}, []string{metrics.LabelPartition})

// duplicateEvents counts redelivered events suppressed by the folded set.
var duplicateEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "aggregator",
	Name:      "duplicate_events_total",
	Help:      "Total number of redelivered change events already folded",
}, []string{metrics.LabelPartition})

// writeConflicts counts optimistic concurrency conflicts on aggregate writes.
var writeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "aggregator",
	Name:      "write_conflicts_total",
	Help:      "Total number of conditional aggregate writes lost to a concurrent update",
}, []string{metrics.LabelPartition})

// foldFailures counts events handed back for redelivery.
var foldFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "aggregator",
	Name:      "fold_failures_total",
	Help:      "Total number of change events that could not be folded",
}, []string{metrics.LabelPartition})
