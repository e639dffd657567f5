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
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorpipe/sensorpipe/pkg/aggstore"
	agginmem "github.com/sensorpipe/sensorpipe/pkg/aggstore/inmem"
	"github.com/sensorpipe/sensorpipe/pkg/reading"
	"github.com/sensorpipe/sensorpipe/pkg/recordstore"
)

func insertEvent(entityID, timestamp string, value float64, offset string) *recordstore.ReadEvent {
	return &recordstore.ReadEvent{
		ChangeEvent: recordstore.ChangeEvent{
			EventType: recordstore.EventInsert,
			NewRecord: &reading.SensorReading{
				EntityID:  entityID,
				Timestamp: timestamp,
				Value:     value,
				Location:  "berlin",
				Unit:      "celsius",
			},
		},
		Offset: offset,
	}
}

func TestProcessBatch_SingleWriterStatistics(t *testing.T) {
	ctx := context.Background()
	store := agginmem.NewStore("aggregates")
	p := NewProcessor(ctx, 0, store)

	values := []float64{22.5, 23.1, 19.4, 30.0, 21.7, 22.5}
	var events []*recordstore.ReadEvent
	for i, v := range values {
		ts := fmt.Sprintf("2026-02-27T10:%02d:00Z", i*7)
		events = append(events, insertEvent("s1", ts, v, fmt.Sprintf("%d", i)))
	}

	result := p.ProcessBatch(ctx, events)
	assert.Len(t, result.AckOffsets(), len(values))
	assert.Empty(t, result.NoAckOffsets())

	a, err := store.Get(ctx, aggstore.Key{EntityID: "s1", TimeBucket: "2026-02-27T10:00:00Z"})
	require.NoError(t, err)
	require.NotNil(t, a)

	expectedSum, _ := stats.Sum(values)
	expectedMin, _ := stats.Min(values)
	expectedMax, _ := stats.Max(values)
	expectedAvg, _ := stats.Mean(values)

	assert.Equal(t, int64(len(values)), a.Count)
	assert.InDelta(t, expectedSum, a.Sum, 1e-9)
	assert.InDelta(t, expectedMin, a.Min, 1e-9)
	assert.InDelta(t, expectedMax, a.Max, 1e-9)
	assert.InDelta(t, expectedAvg, a.Avg, 1e-9)
	assert.InDelta(t, a.Sum/float64(a.Count), a.Avg, 1e-9)
	assert.Equal(t, "berlin", a.Location)
	assert.False(t, a.FirstSeenAt.IsZero())
	assert.False(t, a.LastUpdatedAt.Before(a.FirstSeenAt))
}

func TestProcessBatch_BucketAssignment(t *testing.T) {
	ctx := context.Background()
	store := agginmem.NewStore("aggregates")
	p := NewProcessor(ctx, 0, store)

	result := p.ProcessBatch(ctx, []*recordstore.ReadEvent{
		insertEvent("s1", "2026-02-27T10:15:30Z", 22.5, "0"),
		insertEvent("s1", "2026-02-27T10:59:59Z", 23.1, "1"),
		insertEvent("s1", "2026-02-27T11:00:00Z", 19.0, "2"),
	})
	assert.Empty(t, result.NoAckOffsets())

	hour10, err := store.Get(ctx, aggstore.Key{EntityID: "s1", TimeBucket: "2026-02-27T10:00:00Z"})
	require.NoError(t, err)
	require.NotNil(t, hour10)
	assert.Equal(t, int64(2), hour10.Count)
	assert.InDelta(t, 45.6, hour10.Sum, 1e-9)
	assert.InDelta(t, 22.8, hour10.Avg, 1e-9)
	assert.InDelta(t, 22.5, hour10.Min, 1e-9)
	assert.InDelta(t, 23.1, hour10.Max, 1e-9)

	hour11, err := store.Get(ctx, aggstore.Key{EntityID: "s1", TimeBucket: "2026-02-27T11:00:00Z"})
	require.NoError(t, err)
	require.NotNil(t, hour11)
	assert.Equal(t, int64(1), hour11.Count)
}

func TestProcessBatch_LocationFollowsLatestSupplied(t *testing.T) {
	ctx := context.Background()
	store := agginmem.NewStore("aggregates")
	p := NewProcessor(ctx, 0, store)

	first := insertEvent("s1", "2026-02-27T10:05:00Z", 22.5, "0")
	moved := insertEvent("s1", "2026-02-27T10:20:00Z", 23.0, "1")
	moved.NewRecord.Location = "hamburg"
	silent := insertEvent("s1", "2026-02-27T10:35:00Z", 21.0, "2")
	silent.NewRecord.Location = ""

	// fold one at a time so the update order is deterministic
	for _, e := range []*recordstore.ReadEvent{first, moved, silent} {
		result := p.ProcessBatch(ctx, []*recordstore.ReadEvent{e})
		require.Empty(t, result.NoAckOffsets())
	}

	a, err := store.Get(ctx, aggstore.Key{EntityID: "s1", TimeBucket: "2026-02-27T10:00:00Z"})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, int64(3), a.Count)
	// a reading that supplies a location moves the aggregate there; one
	// without a location leaves it untouched
	assert.Equal(t, "hamburg", a.Location)
}

func TestProcessBatch_RedeliveryDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	store := agginmem.NewStore("aggregates")
	p := NewProcessor(ctx, 0, store)

	event := insertEvent("s1", "2026-02-27T10:15:30Z", 22.5, "0")
	first := p.ProcessBatch(ctx, []*recordstore.ReadEvent{event})
	assert.Empty(t, first.NoAckOffsets())

	// the feed redelivers the same event after the ack was lost
	second := p.ProcessBatch(ctx, []*recordstore.ReadEvent{event})
	assert.Empty(t, second.NoAckOffsets())

	a, err := store.Get(ctx, aggstore.Key{EntityID: "s1", TimeBucket: "2026-02-27T10:00:00Z"})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, int64(1), a.Count)
	assert.InDelta(t, 22.5, a.Sum, 1e-9)
}

func TestProcessBatch_DiscardsNonInsertEvents(t *testing.T) {
	ctx := context.Background()
	store := agginmem.NewStore("aggregates")
	p := NewProcessor(ctx, 0, store)

	result := p.ProcessBatch(ctx, []*recordstore.ReadEvent{
		{ChangeEvent: recordstore.ChangeEvent{EventType: recordstore.EventModify}, Offset: "0"},
		{ChangeEvent: recordstore.ChangeEvent{EventType: recordstore.EventRemove}, Offset: "1"},
	})
	// discards are successes, they must be acknowledged
	assert.Len(t, result.AckOffsets(), 2)
	assert.Empty(t, result.NoAckOffsets())
}

func TestProcessBatch_ConcurrentSameKeyFolds(t *testing.T) {
	ctx := context.Background()
	store := agginmem.NewStore("aggregates")

	const workers = 4
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			p := NewProcessor(ctx, 0, store, WithConflictRetries(50))
			var events []*recordstore.ReadEvent
			for i := 0; i < perWorker; i++ {
				ts := fmt.Sprintf("2026-02-27T10:%02d:%02dZ", w, i)
				events = append(events, insertEvent("s1", ts, 1.0, ts))
			}
			result := p.ProcessBatch(ctx, events)
			assert.Empty(t, result.NoAckOffsets())
		}(w)
	}
	wg.Wait()

	a, err := store.Get(ctx, aggstore.Key{EntityID: "s1", TimeBucket: "2026-02-27T10:00:00Z"})
	require.NoError(t, err)
	require.NotNil(t, a)
	// no lost updates: every fold landed exactly once
	assert.Equal(t, int64(workers*perWorker), a.Count)
	assert.InDelta(t, float64(workers*perWorker), a.Sum, 1e-9)
}

type failingStore struct {
	*agginmem.Store
}

func (f *failingStore) PutConditional(context.Context, *aggstore.Aggregate, int64) error {
	return fmt.Errorf("store unavailable")
}

func TestProcessBatch_FailurePropagates(t *testing.T) {
	ctx := context.Background()
	p := NewProcessor(ctx, 0, &failingStore{agginmem.NewStore("aggregates")},
		WithConflictRetries(2), WithConflictRetryInterval(time.Millisecond))

	result := p.ProcessBatch(ctx, []*recordstore.ReadEvent{
		insertEvent("s1", "2026-02-27T10:15:30Z", 22.5, "0"),
	})
	assert.Empty(t, result.AckOffsets())
	assert.Equal(t, []string{"0"}, result.NoAckOffsets())
	assert.Error(t, result.Results[0].Err)
}
