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

/*
Package aggregator folds newly inserted sensor readings into hourly
aggregate snapshots. The fold is a read-modify-write over the aggregate
store, so every write is conditional on the version read; a conflict means a
concurrent worker got there first and the fold retries on the fresher
snapshot. Redelivered change events are suppressed by the folded set carried
inside the snapshot, which commits atomically with the fold itself. Events
for distinct entities are processed in parallel; events for the same entity
are serialized within the batch.
*/
package aggregator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/sensorpipe/sensorpipe/pkg/aggstore"
	"github.com/sensorpipe/sensorpipe/pkg/reading"
	"github.com/sensorpipe/sensorpipe/pkg/recordstore"
	"github.com/sensorpipe/sensorpipe/pkg/shared/logging"
)

// Result is the outcome of one change event.
type Result struct {
	Event *recordstore.ReadEvent
	// Err is set when the event must be redelivered. Everything else
	// (folded, duplicate, discarded non-insert) is a success.
	Err error
}

// BatchResult enumerates the independent outcomes of one ProcessBatch call.
type BatchResult struct {
	Results []Result
}

// AckOffsets returns the offsets of successfully handled events.
func (br BatchResult) AckOffsets() []string {
	var offsets []string
	for _, r := range br.Results {
		if r.Err == nil {
			offsets = append(offsets, r.Event.Offset)
		}
	}
	return offsets
}

// NoAckOffsets returns the offsets that must be redelivered.
func (br BatchResult) NoAckOffsets() []string {
	var offsets []string
	for _, r := range br.Results {
		if r.Err != nil {
			offsets = append(offsets, r.Event.Offset)
		}
	}
	return offsets
}

// Processor is the aggregation stage. It is stateless between invocations
// and safe to scale horizontally; correctness under same-key concurrency
// comes from the conditional writes, not from exclusivity.
type Processor struct {
	partition int32
	store     aggstore.Store
	opts      *options
	clock     func() time.Time
	log       *zap.SugaredLogger
}

// NewProcessor returns an aggregation processor for one feed partition.
func NewProcessor(ctx context.Context, partition int32, store aggstore.Store, opts ...Option) *Processor {
	options := defaultOptions()
	for _, o := range opts {
		o(options)
	}
	return &Processor{
		partition: partition,
		store:     store,
		opts:      options,
		clock:     time.Now,
		log:       logging.FromContext(ctx).With("processor", "aggregator").With("partition", partition),
	}
}

// ProcessBatch folds every INSERT event into its aggregate and reports the
// per-event outcomes. Failures are never swallowed; the caller must leave
// failed events unacknowledged so the feed redelivers them.
func (p *Processor) ProcessBatch(ctx context.Context, events []*recordstore.ReadEvent) BatchResult {
	partitionLabel := strconv.Itoa(int(p.partition))
	results := make([]Result, len(events))

	// same-entity events must fold in sequence; batches are unordered
	// multisets, so grouping by entity loses nothing
	groups := make(map[string][]int)
	for i, e := range events {
		results[i] = Result{Event: e}
		if e.EventType != recordstore.EventInsert || e.NewRecord == nil {
			eventsDiscarded.WithLabelValues(partitionLabel).Inc()
			continue
		}
		groups[e.NewRecord.EntityID] = append(groups[e.NewRecord.EntityID], i)
	}

	g := new(errgroup.Group)
	g.SetLimit(p.opts.concurrency)
	for _, indexes := range groups {
		indexes := indexes
		g.Go(func() error {
			for _, i := range indexes {
				select {
				case <-ctx.Done():
					results[i].Err = ctx.Err()
					foldFailures.WithLabelValues(partitionLabel).Inc()
					continue
				default:
				}
				if err := p.foldOne(ctx, events[i].NewRecord); err != nil {
					results[i].Err = err
					foldFailures.WithLabelValues(partitionLabel).Inc()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return BatchResult{Results: results}
}

// foldOne runs the optimistic read-modify-write loop for a single reading.
func (p *Processor) foldOne(ctx context.Context, r *reading.SensorReading) error {
	partitionLabel := strconv.Itoa(int(p.partition))
	bucket, err := reading.HourBucket(r.Timestamp)
	if err != nil {
		// a stored record always carries a validated timestamp; nothing
		// a redelivery could fix
		return fmt.Errorf("record %s has an unbucketable timestamp, %w", r.Key(), err)
	}
	key := aggstore.Key{EntityID: r.EntityID, TimeBucket: bucket}

	conflictBackoff := wait.Backoff{
		Steps:    p.opts.conflictRetries,
		Duration: p.opts.conflictRetryInterval,
		Factor:   2.0,
		Jitter:   0.1,
	}
	err = wait.ExponentialBackoffWithContext(ctx, conflictBackoff, func(ctx context.Context) (bool, error) {
		current, err := p.get(ctx, key)
		if err != nil {
			return false, err
		}
		if current != nil && current.Folded[r.Timestamp] {
			duplicateEvents.WithLabelValues(partitionLabel).Inc()
			p.log.Debugw("Change event already folded, skipping", "key", key.String(), "timestamp", r.Timestamp)
			return true, nil
		}
		next := p.fold(current, r, key)
		var expectedVersion int64
		if current != nil {
			expectedVersion = current.Version
		}
		if err := p.putConditional(ctx, next, expectedVersion); err != nil {
			if aggstore.IsVersionConflict(err) {
				writeConflicts.WithLabelValues(partitionLabel).Inc()
				p.log.Debugw("Lost conditional write, retrying fold", "key", key.String(), zap.Int64("expectedVersion", expectedVersion))
				return false, nil
			}
			return false, err
		}
		eventsFolded.WithLabelValues(partitionLabel).Inc()
		return true, nil
	})
	if err != nil {
		p.log.Errorw("Failed to fold reading into aggregate", "key", key.String(), zap.Error(err))
		return fmt.Errorf("failed to fold %s into %s, %w", r.Key(), key, err)
	}
	return nil
}

// fold computes the next snapshot. It never mutates current.
func (p *Processor) fold(current *aggstore.Aggregate, r *reading.SensorReading, key aggstore.Key) *aggstore.Aggregate {
	now := p.clock()
	if current == nil {
		return &aggstore.Aggregate{
			EntityID:      key.EntityID,
			TimeBucket:    key.TimeBucket,
			Count:         1,
			Sum:           r.Value,
			Min:           r.Value,
			Max:           r.Value,
			Avg:           r.Value,
			Location:      r.Location,
			FirstSeenAt:   now,
			LastUpdatedAt: now,
			Folded:        map[string]bool{r.Timestamp: true},
		}
	}
	next := *current
	next.Folded = make(map[string]bool, len(current.Folded)+1)
	for k := range current.Folded {
		next.Folded[k] = true
	}
	next.Folded[r.Timestamp] = true
	next.Count++
	next.Sum += r.Value
	if r.Value < next.Min {
		next.Min = r.Value
	}
	if r.Value > next.Max {
		next.Max = r.Value
	}
	next.Avg = next.Sum / float64(next.Count)
	// a reading that carries a location takes it over; readings without
	// one leave the earlier value in place
	if r.Location != "" {
		next.Location = r.Location
	}
	next.LastUpdatedAt = now
	return &next
}

func (p *Processor) get(ctx context.Context, key aggstore.Key) (*aggstore.Aggregate, error) {
	cctx, cancel := context.WithTimeout(ctx, p.opts.storeTimeout)
	defer cancel()
	return p.store.Get(cctx, key)
}

func (p *Processor) putConditional(ctx context.Context, a *aggstore.Aggregate, expectedVersion int64) error {
	cctx, cancel := context.WithTimeout(ctx, p.opts.storeTimeout)
	defer cancel()
	return p.store.PutConditional(cctx, a, expectedVersion)
}
