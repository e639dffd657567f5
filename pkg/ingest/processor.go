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
Package ingest turns queued upload notifications into canonical sensor
reading records, exactly once per underlying object despite at-least-once
delivery. Each message in a batch is processed independently: it ends up
acknowledged, skipped, or left unacknowledged for the queue's visibility
timeout to redeliver. Permanent failures (malformed envelopes, schema
violations) are never retried by the processor itself; they ride the
redelivery path until the queue's redrive policy moves them to the DLQ.
*/
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sensorpipe/sensorpipe/pkg/queue"
	"github.com/sensorpipe/sensorpipe/pkg/rawstore"
	"github.com/sensorpipe/sensorpipe/pkg/reading"
	"github.com/sensorpipe/sensorpipe/pkg/recordstore"
	"github.com/sensorpipe/sensorpipe/pkg/shared/logging"
)

// VisibilityExtender extends the visibility window of an in-flight delivery.
// queue.Reader satisfies this.
type VisibilityExtender interface {
	ChangeVisibility(ctx context.Context, receiptToken string, visibility time.Duration) error
}

// Processor is the ingestion stage. It is stateless between invocations and
// safe to scale horizontally.
type Processor struct {
	queueName   string
	rawStore    rawstore.Store
	recordStore recordstore.Store
	opts        *options
	clock       func() time.Time
	log         *zap.SugaredLogger
}

// NewProcessor returns a new ingestion processor consuming notifications for
// the named queue.
func NewProcessor(ctx context.Context, queueName string, rawStore rawstore.Store, recordStore recordstore.Store, opts ...Option) *Processor {
	options := defaultOptions()
	for _, o := range opts {
		o(options)
	}
	return &Processor{
		queueName:   queueName,
		rawStore:    rawStore,
		recordStore: recordStore,
		opts:        options,
		clock:       time.Now,
		log:         logging.FromContext(ctx).With("processor", "ingest").With("queue", queueName),
	}
}

// ProcessBatch processes each message independently and returns the per-
// message outcomes. The caller must acknowledge exactly the receipt tokens in
// BatchResult.AckTokens and leave everything else untouched. Cancellation is
// cooperative: messages not yet started when ctx is done are reported for
// redelivery, in-flight ones run to completion.
func (p *Processor) ProcessBatch(ctx context.Context, messages []*queue.Message) BatchResult {
	results := make([]Result, len(messages))
	g := new(errgroup.Group)
	g.SetLimit(p.opts.concurrency)
	for i, m := range messages {
		i, m := i, m
		g.Go(func() error {
			select {
			case <-ctx.Done():
				results[i] = Result{Message: m, Outcome: OutcomeRedeliver, Reason: "canceled", Err: ctx.Err()}
			default:
				results[i] = p.processOne(ctx, m)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r.Outcome {
		case OutcomeAcked:
			readingsAcked.WithLabelValues(p.queueName).Inc()
		case OutcomeSkipped:
			readingsSkipped.WithLabelValues(p.queueName, r.Reason).Inc()
		case OutcomeRedeliver:
			readingsRedelivered.WithLabelValues(p.queueName, r.Reason).Inc()
		}
	}
	return BatchResult{Results: results}
}

func (p *Processor) processOne(ctx context.Context, m *queue.Message) Result {
	log := p.log.With("messageId", m.ID)

	var ref rawstore.ObjectRef
	if err := json.Unmarshal(m.Payload, &ref); err != nil || ref.Container == "" || ref.Key == "" {
		// a malformed envelope can never succeed on retry; leave it for
		// the redrive policy to route to the DLQ
		log.Errorw("Malformed notification envelope",
			zap.ByteString("payload", m.Payload), zap.Int("deliveryCount", m.DeliveryCount), zap.Error(err))
		return Result{Message: m, Outcome: OutcomeRedeliver, Reason: "envelope",
			Err: fmt.Errorf("malformed notification envelope")}
	}
	log = log.With("object", ref.String())

	if !strings.HasPrefix(ref.Key, p.opts.keyPrefix) {
		return Result{Message: m, Outcome: OutcomeSkipped, Reason: "prefix"}
	}
	if !strings.HasSuffix(ref.Key, p.opts.extension) {
		return Result{Message: m, Outcome: OutcomeSkipped, Reason: "extension"}
	}

	info, err := p.head(ctx, ref)
	if err != nil {
		log.Warnw("Failed to head raw object", zap.Error(err))
		return Result{Message: m, Outcome: OutcomeRedeliver, Reason: "transient", Err: err}
	}
	if info.Size > p.opts.maxObjectSize {
		log.Infow("Skipping oversized object", zap.Int64("size", info.Size))
		return Result{Message: m, Outcome: OutcomeSkipped, Reason: "size"}
	}
	if p.opts.extender != nil && info.Size > p.opts.largeObjectSize {
		// best effort, a failed extension only risks an earlier redelivery
		if err := p.opts.extender.ChangeVisibility(ctx, m.ReceiptToken, p.opts.extendedVisibility); err != nil {
			log.Warnw("Failed to extend visibility window", zap.Error(err))
		}
	}

	data, err := p.get(ctx, ref)
	if err != nil {
		log.Warnw("Failed to fetch raw object", zap.Error(err))
		return Result{Message: m, Outcome: OutcomeRedeliver, Reason: "transient", Err: err}
	}

	r, err := reading.Parse(data)
	if err != nil {
		var schemaErr *reading.SchemaError
		if errors.As(err, &schemaErr) {
			// keep the offending payload in the log for operator
			// inspection; the message itself drains to the DLQ
			log.Errorw("Rejected reading with schema violation",
				zap.ByteString("payload", data), zap.Int("deliveryCount", m.DeliveryCount), zap.Error(err))
			return Result{Message: m, Outcome: OutcomeRedeliver, Reason: "schema", Err: err}
		}
		return Result{Message: m, Outcome: OutcomeRedeliver, Reason: "transient", Err: err}
	}
	if !r.InBand(p.opts.bandMin, p.opts.bandMax) {
		softWarnings.WithLabelValues(p.queueName).Inc()
		log.Warnw("Reading value outside plausible band, storing anyway",
			zap.Float64("value", r.Value), zap.Float64("bandMin", p.opts.bandMin), zap.Float64("bandMax", p.opts.bandMax))
	}

	fingerprint := sha256.Sum256(data)
	r.SourceKey = hex.EncodeToString(fingerprint[:])

	existing, err := p.getByKey(ctx, r.Key())
	if err != nil {
		log.Warnw("Failed to check for existing record", zap.Error(err))
		return Result{Message: m, Outcome: OutcomeRedeliver, Reason: "transient", Err: err}
	}
	if existing != nil {
		return p.resolveExisting(log, m, r, existing)
	}

	r.ProcessedAt = p.clock()
	if err := p.put(ctx, r); err != nil {
		if recordstore.IsConflict(err) {
			// lost the insert race to a concurrent worker; decide on
			// what actually got stored
			existing, getErr := p.getByKey(ctx, r.Key())
			if getErr != nil || existing == nil {
				return Result{Message: m, Outcome: OutcomeRedeliver, Reason: "transient", Err: err}
			}
			return p.resolveExisting(log, m, r, existing)
		}
		log.Warnw("Failed to write record", zap.Error(err))
		return Result{Message: m, Outcome: OutcomeRedeliver, Reason: "transient", Err: err}
	}
	log.Debugw("Stored reading", "entityId", r.EntityID, "timestamp", r.Timestamp)
	return Result{Message: m, Outcome: OutcomeAcked}
}

// resolveExisting decides the outcome when the record identity is already
// stored. The same source object means an idempotent duplicate; a different
// one is an identity collision that no retry can resolve.
func (p *Processor) resolveExisting(log *zap.SugaredLogger, m *queue.Message, r *reading.SensorReading, existing *reading.SensorReading) Result {
	if existing.SourceKey == r.SourceKey {
		duplicateHits.WithLabelValues(p.queueName).Inc()
		log.Infow("Duplicate delivery of already-processed object, acknowledging without a write")
		return Result{Message: m, Outcome: OutcomeAcked}
	}
	log.Errorw("Record identity collision from a different source object",
		"entityId", r.EntityID, "timestamp", r.Timestamp,
		"storedSourceKey", existing.SourceKey, "incomingSourceKey", r.SourceKey)
	return Result{Message: m, Outcome: OutcomeRedeliver, Reason: "collision",
		Err: fmt.Errorf("record %s already written from a different source object", r.Key())}
}

func (p *Processor) head(ctx context.Context, ref rawstore.ObjectRef) (*rawstore.ObjectInfo, error) {
	cctx, cancel := context.WithTimeout(ctx, p.opts.storeTimeout)
	defer cancel()
	return p.rawStore.Head(cctx, ref)
}

func (p *Processor) get(ctx context.Context, ref rawstore.ObjectRef) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, p.opts.storeTimeout)
	defer cancel()
	return p.rawStore.Get(cctx, ref)
}

func (p *Processor) getByKey(ctx context.Context, key reading.Key) (*reading.SensorReading, error) {
	cctx, cancel := context.WithTimeout(ctx, p.opts.storeTimeout)
	defer cancel()
	return p.recordStore.GetByKey(cctx, key)
}

func (p *Processor) put(ctx context.Context, r *reading.SensorReading) error {
	cctx, cancel := context.WithTimeout(ctx, p.opts.storeTimeout)
	defer cancel()
	return p.recordStore.Put(cctx, r)
}
