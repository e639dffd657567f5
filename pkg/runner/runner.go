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
Package runner contains the batch-delivery loops that drive the two
processors: one polls the work queue for the ingestion stage, the other tails
a change feed partition for the aggregation stage. Both stop cooperatively on
context cancellation, finishing the batch in flight and leaving everything
unacknowledged for natural redelivery.
*/
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sensorpipe/sensorpipe/pkg/aggregator"
	"github.com/sensorpipe/sensorpipe/pkg/ingest"
	"github.com/sensorpipe/sensorpipe/pkg/queue"
	"github.com/sensorpipe/sensorpipe/pkg/recordstore"
	"github.com/sensorpipe/sensorpipe/pkg/shared/logging"
)

type options struct {
	batchSize    int64
	waitTime     time.Duration
	idleInterval time.Duration
}

func defaultRunnerOptions() *options {
	return &options{
		batchSize:    64,
		waitTime:     time.Second,
		idleInterval: 100 * time.Millisecond,
	}
}

// Option to customize a runner.
type Option func(*options)

// WithBatchSize sets how many messages/events one iteration asks for.
func WithBatchSize(n int64) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithWaitTime sets how long a receive waits for the first message.
func WithWaitTime(d time.Duration) Option {
	return func(o *options) {
		o.waitTime = d
	}
}

// WithIdleInterval sets the pause after an empty read.
func WithIdleInterval(d time.Duration) Option {
	return func(o *options) {
		o.idleInterval = d
	}
}

// IngestRunner drives the ingestion processor off the work queue.
type IngestRunner struct {
	reader    queue.Reader
	processor *ingest.Processor
	opts      *options
	log       *zap.SugaredLogger
}

// NewIngestRunner returns a runner consuming from reader.
func NewIngestRunner(ctx context.Context, reader queue.Reader, processor *ingest.Processor, opts ...Option) *IngestRunner {
	options := defaultRunnerOptions()
	for _, o := range opts {
		o(options)
	}
	return &IngestRunner{
		reader:    reader,
		processor: processor,
		opts:      options,
		log:       logging.FromContext(ctx).With("runner", "ingest").With("queue", reader.GetName()),
	}
}

// Start polls until ctx is done. Only messages the processor marks
// successful are acknowledged; everything else is left for the visibility
// timeout.
func (r *IngestRunner) Start(ctx context.Context) {
	r.log.Infow("Ingest runner started")
	defer r.log.Infow("Ingest runner stopped")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		messages, err := r.reader.Receive(ctx, r.opts.batchSize, r.opts.waitTime)
		if err != nil {
			r.log.Errorw("Failed to receive from work queue", zap.Error(err))
			r.idle(ctx)
			continue
		}
		if len(messages) == 0 {
			continue
		}
		result := r.processor.ProcessBatch(ctx, messages)
		tokens := result.AckTokens()
		if len(tokens) == 0 {
			continue
		}
		for i, ackErr := range r.reader.Ack(ctx, tokens) {
			if ackErr != nil {
				// the message will be redelivered and dedup makes the
				// second pass a no-op
				r.log.Warnw("Failed to acknowledge message", "token", tokens[i], zap.Error(ackErr))
			}
		}
	}
}

func (r *IngestRunner) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.opts.idleInterval):
	}
}

// AggregateRunner drives the aggregation processor off one change feed
// partition.
type AggregateRunner struct {
	feed      recordstore.FeedReader
	processor *aggregator.Processor
	opts      *options
	log       *zap.SugaredLogger
}

// NewAggregateRunner returns a runner tailing the given feed partition.
func NewAggregateRunner(ctx context.Context, feed recordstore.FeedReader, processor *aggregator.Processor, opts ...Option) *AggregateRunner {
	options := defaultRunnerOptions()
	for _, o := range opts {
		o(options)
	}
	return &AggregateRunner{
		feed:      feed,
		processor: processor,
		opts:      options,
		log: logging.FromContext(ctx).With("runner", "aggregate").
			With("feed", feed.GetName()).With("partition", feed.GetPartitionIdx()),
	}
}

// Start tails the feed until ctx is done. Failed events are handed back via
// NoAck so the feed redelivers them; the folded set keeps the retry from
// double counting anything that did land.
func (r *AggregateRunner) Start(ctx context.Context) {
	r.log.Infow("Aggregate runner started")
	defer r.log.Infow("Aggregate runner stopped")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		events, err := r.feed.Read(ctx, r.opts.batchSize)
		if err != nil {
			r.log.Errorw("Failed to read change feed", zap.Error(err))
			r.idle(ctx)
			continue
		}
		if len(events) == 0 {
			r.idle(ctx)
			continue
		}
		result := r.processor.ProcessBatch(ctx, events)
		if acks := result.AckOffsets(); len(acks) > 0 {
			for i, ackErr := range r.feed.Ack(ctx, acks) {
				if ackErr != nil {
					r.log.Warnw("Failed to acknowledge change event", "offset", acks[i], zap.Error(ackErr))
				}
			}
		}
		if noAcks := result.NoAckOffsets(); len(noAcks) > 0 {
			r.log.Warnw("Returning failed change events for redelivery", "count", len(noAcks))
			r.feed.NoAck(ctx, noAcks)
		}
	}
}

func (r *AggregateRunner) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.opts.idleInterval):
	}
}
