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

package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorpipe/sensorpipe/pkg/aggregator"
	"github.com/sensorpipe/sensorpipe/pkg/aggstore"
	agginmem "github.com/sensorpipe/sensorpipe/pkg/aggstore/inmem"
	"github.com/sensorpipe/sensorpipe/pkg/ingest"
	queueinmem "github.com/sensorpipe/sensorpipe/pkg/queue/inmem"
	"github.com/sensorpipe/sensorpipe/pkg/rawstore"
	rawinmem "github.com/sensorpipe/sensorpipe/pkg/rawstore/inmem"
	"github.com/sensorpipe/sensorpipe/pkg/reading"
	recordinmem "github.com/sensorpipe/sensorpipe/pkg/recordstore/inmem"
)

const feedPartitions = 2

// pipeline wires the whole flow on the in-memory backends: raw store with
// notifications -> work queue -> ingestion -> record store change feed ->
// aggregation -> aggregate store.
type pipeline struct {
	raw        rawstore.Store
	workQueue  *queueinmem.Queue
	records    *recordinmem.Store
	aggregates *agginmem.Store
	cancel     context.CancelFunc
	done       chan struct{}
}

func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	workQueue := queueinmem.NewQueue("work",
		queueinmem.WithVisibilityTimeout(50*time.Millisecond),
		queueinmem.WithMaxReceiveCount(3))
	raw := rawstore.WithNotifications(rawinmem.NewStore("uploads"), workQueue)
	records := recordinmem.NewStore("records", feedPartitions)
	aggregates := agginmem.NewStore("aggregates")

	ingestProcessor := ingest.NewProcessor(ctx, workQueue.GetName(), raw, records,
		ingest.WithVisibilityExtender(workQueue))
	ingestRunner := NewIngestRunner(ctx, workQueue, ingestProcessor,
		WithBatchSize(8), WithWaitTime(20*time.Millisecond), WithIdleInterval(5*time.Millisecond))

	done := make(chan struct{})
	running := 1 + feedPartitions
	finished := make(chan struct{}, running)
	go func() {
		ingestRunner.Start(ctx)
		finished <- struct{}{}
	}()
	for partition := int32(0); partition < feedPartitions; partition++ {
		aggRunner := NewAggregateRunner(ctx,
			recordinmem.NewFeedReader(records, partition),
			aggregator.NewProcessor(ctx, partition, aggregates),
			WithBatchSize(8), WithIdleInterval(5*time.Millisecond))
		go func() {
			aggRunner.Start(ctx)
			finished <- struct{}{}
		}()
	}
	go func() {
		for i := 0; i < running; i++ {
			<-finished
		}
		close(done)
	}()

	return &pipeline{
		raw:        raw,
		workQueue:  workQueue,
		records:    records,
		aggregates: aggregates,
		cancel:     cancel,
		done:       done,
	}
}

func (p *pipeline) stop(t *testing.T) {
	t.Helper()
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		t.Fatal("runners did not stop")
	}
}

func (p *pipeline) upload(t *testing.T, key, payload string) {
	t.Helper()
	ref := rawstore.ObjectRef{Container: "uploads", Key: key}
	require.NoError(t, p.raw.Put(context.Background(), ref, []byte(payload)))
}

func TestEndToEnd_SingleReading(t *testing.T) {
	p := startPipeline(t)
	defer p.stop(t)
	ctx := context.Background()

	p.upload(t, "readings/r1.json", `{"sensorId":"s1","timestamp":"2026-02-27T10:15:30Z","temperature":22.5,"location":"berlin","unit":"celsius"}`)

	key := aggstore.Key{EntityID: "s1", TimeBucket: "2026-02-27T10:00:00Z"}
	require.Eventually(t, func() bool {
		a, err := p.aggregates.Get(ctx, key)
		return err == nil && a != nil
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := p.records.GetByKey(ctx, reading.Key{EntityID: "s1", Timestamp: "2026-02-27T10:15:30Z"})
	require.NoError(t, err)
	require.NotNil(t, stored)

	a, err := p.aggregates.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Count)
	assert.InDelta(t, 22.5, a.Avg, 1e-9)
	assert.InDelta(t, 22.5, a.Min, 1e-9)
	assert.InDelta(t, 22.5, a.Max, 1e-9)
}

func TestEndToEnd_TwoReadingsSameHour(t *testing.T) {
	p := startPipeline(t)
	defer p.stop(t)
	ctx := context.Background()

	p.upload(t, "readings/r1.json", `{"sensorId":"s1","timestamp":"2026-02-27T10:15:30Z","temperature":22.5}`)
	p.upload(t, "readings/r2.json", `{"sensorId":"s1","timestamp":"2026-02-27T10:45:00Z","temperature":23.1}`)

	key := aggstore.Key{EntityID: "s1", TimeBucket: "2026-02-27T10:00:00Z"}
	require.Eventually(t, func() bool {
		a, err := p.aggregates.Get(ctx, key)
		return err == nil && a != nil && a.Count == 2
	}, 5*time.Second, 10*time.Millisecond)

	a, err := p.aggregates.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.Count)
	assert.InDelta(t, 45.6, a.Sum, 1e-9)
	assert.InDelta(t, 22.8, a.Avg, 1e-9)
	assert.InDelta(t, 22.5, a.Min, 1e-9)
	assert.InDelta(t, 23.1, a.Max, 1e-9)
}

func TestEndToEnd_InvalidValueReachesDLQ(t *testing.T) {
	p := startPipeline(t)
	defer p.stop(t)
	ctx := context.Background()

	p.upload(t, "readings/bad.json", `{"sensorId":"s1","timestamp":"2026-02-27T10:15:30Z","temperature":"invalid"}`)

	// retries exhaust and the redrive policy moves the message to the DLQ
	require.Eventually(t, func() bool {
		pending, err := p.workQueue.DLQ().Pending(ctx)
		return err == nil && pending == 1
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := p.records.GetByKey(ctx, reading.Key{EntityID: "s1", Timestamp: "2026-02-27T10:15:30Z"})
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestEndToEnd_DuplicateUpload(t *testing.T) {
	p := startPipeline(t)
	defer p.stop(t)
	ctx := context.Background()

	payload := `{"sensorId":"s1","timestamp":"2026-02-27T10:15:30Z","temperature":22.5}`
	// the same object uploaded twice emits two notifications
	p.upload(t, "readings/r1.json", payload)
	p.upload(t, "readings/r1.json", payload)

	key := aggstore.Key{EntityID: "s1", TimeBucket: "2026-02-27T10:00:00Z"}
	require.Eventually(t, func() bool {
		a, err := p.aggregates.Get(ctx, key)
		return err == nil && a != nil
	}, 5*time.Second, 10*time.Millisecond)

	// give the second notification time to drain, then check nothing
	// double counted
	require.Eventually(t, func() bool {
		pending, err := p.workQueue.Pending(ctx)
		return err == nil && pending == 0
	}, 5*time.Second, 10*time.Millisecond)

	a, err := p.aggregates.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Count)
	assert.InDelta(t, 22.5, a.Sum, 1e-9)
}
