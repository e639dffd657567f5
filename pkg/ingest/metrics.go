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

package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sensorpipe/sensorpipe/pkg/metrics"
)

// readingsAcked counts messages fully processed or deduplicated.
var readingsAcked = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "ingest",
	Name:      "acked_total",
	Help:      "Total number of acknowledged work messages",
}, []string{metrics.LabelQueue})

// readingsSkipped counts messages filtered out by the structural filters.
var readingsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "ingest",
	Name:      "skipped_total",
	Help:      "Total number of skipped work messages",
}, []string{metrics.LabelQueue, metrics.LabelReason})

// readingsRedelivered counts messages left for redelivery.
var readingsRedelivered = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "ingest",
	Name:      "redelivered_total",
	Help:      "Total number of work messages left for redelivery",
}, []string{metrics.LabelQueue, metrics.LabelReason})

// duplicateHits counts idempotent no-ops on already-processed objects.
var duplicateHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "ingest",
	Name:      "duplicate_total",
	Help:      "Total number of duplicate deliveries acknowledged without a write",
}, []string{metrics.LabelQueue})

// softWarnings counts well-typed but implausible values.
var softWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "ingest",
	Name:      "soft_validation_warnings_total",
	Help:      "Total number of out-of-band values stored with a warning",
}, []string{metrics.LabelQueue})
