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
	"context"
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorpipe/sensorpipe/pkg/queue"
	"github.com/sensorpipe/sensorpipe/pkg/rawstore"
	rawinmem "github.com/sensorpipe/sensorpipe/pkg/rawstore/inmem"
	"github.com/sensorpipe/sensorpipe/pkg/reading"
	recordinmem "github.com/sensorpipe/sensorpipe/pkg/recordstore/inmem"
)

func testMessage(t *testing.T, ref rawstore.ObjectRef) *queue.Message {
	t.Helper()
	envelope, err := json.Marshal(ref)
	require.NoError(t, err)
	return &queue.Message{ID: ref.Key, Payload: envelope, ReceiptToken: "token-" + ref.Key, DeliveryCount: 1}
}

func upload(t *testing.T, store rawstore.Store, key string, payload string) rawstore.ObjectRef {
	t.Helper()
	ref := rawstore.ObjectRef{Container: "uploads", Key: key}
	require.NoError(t, store.Put(context.Background(), ref, []byte(payload)))
	return ref
}

func TestProcessBatch_StoresValidReading(t *testing.T) {
	ctx := context.Background()
	raw := rawinmem.NewStore("raw")
	records := recordinmem.NewStore("records", 1)
	p := NewProcessor(ctx, "work", raw, records)

	ref := upload(t, raw, "readings/r1.json", `{"sensorId":"s1","timestamp":"2026-02-27T10:15:30Z","temperature":22.5,"location":"berlin","unit":"celsius"}`)
	result := p.ProcessBatch(ctx, []*queue.Message{testMessage(t, ref)})

	require.Len(t, result.Results, 1)
	assert.Equal(t, OutcomeAcked, result.Results[0].Outcome)
	assert.Equal(t, []string{"token-readings/r1.json"}, result.AckTokens())

	stored, err := records.GetByKey(ctx, reading.Key{EntityID: "s1", Timestamp: "2026-02-27T10:15:30Z"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 22.5, stored.Value)
	assert.NotEmpty(t, stored.SourceKey)
	assert.False(t, stored.ProcessedAt.IsZero())
}

func TestProcessBatch_DuplicateObjectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	raw := rawinmem.NewStore("raw")
	records := recordinmem.NewStore("records", 1)
	p := NewProcessor(ctx, "work", raw, records)

	ref := upload(t, raw, "readings/r1.json", `{"sensorId":"s1","timestamp":"2026-02-27T10:15:30Z","temperature":22.5}`)

	first := p.ProcessBatch(ctx, []*queue.Message{testMessage(t, ref)})
	assert.Equal(t, OutcomeAcked, first.Results[0].Outcome)

	// redelivery of the same underlying object acks without a second write
	second := p.ProcessBatch(ctx, []*queue.Message{testMessage(t, ref)})
	assert.Equal(t, OutcomeAcked, second.Results[0].Outcome)

	// the change feed saw exactly one insert
	fr := recordinmem.NewFeedReader(records, 0)
	events, err := fr.Read(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestProcessBatch_SchemaViolationLeftForRedelivery(t *testing.T) {
	ctx := context.Background()
	raw := rawinmem.NewStore("raw")
	records := recordinmem.NewStore("records", 1)
	p := NewProcessor(ctx, "work", raw, records)

	ref := upload(t, raw, "readings/bad.json", `{"sensorId":"s1","timestamp":"2026-02-27T10:15:30Z","temperature":"invalid"}`)
	result := p.ProcessBatch(ctx, []*queue.Message{testMessage(t, ref)})

	assert.Equal(t, OutcomeRedeliver, result.Results[0].Outcome)
	assert.Equal(t, "schema", result.Results[0].Reason)
	assert.Empty(t, result.AckTokens())

	stored, err := records.GetByKey(ctx, reading.Key{EntityID: "s1", Timestamp: "2026-02-27T10:15:30Z"})
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestProcessBatch_MalformedEnvelope(t *testing.T) {
	ctx := context.Background()
	p := NewProcessor(ctx, "work", rawinmem.NewStore("raw"), recordinmem.NewStore("records", 1))

	m := &queue.Message{ID: "m1", Payload: []byte("not-an-envelope"), ReceiptToken: "t1", DeliveryCount: 1}
	result := p.ProcessBatch(ctx, []*queue.Message{m})
	assert.Equal(t, OutcomeRedeliver, result.Results[0].Outcome)
	assert.Equal(t, "envelope", result.Results[0].Reason)
}

func TestProcessBatch_StructuralFilters(t *testing.T) {
	ctx := context.Background()
	raw := rawinmem.NewStore("raw")
	records := recordinmem.NewStore("records", 1)
	p := NewProcessor(ctx, "work", raw, records, WithMaxObjectSize(16))

	valid := `{"sensorId":"s1","timestamp":"2026-02-27T10:15:30Z","temperature":22.5}`
	outside := upload(t, raw, "other/r1.json", valid)
	wrongExt := upload(t, raw, "readings/r1.csv", valid)
	oversized := upload(t, raw, "readings/big.json", valid) // longer than 16 bytes

	result := p.ProcessBatch(ctx, []*queue.Message{
		testMessage(t, outside), testMessage(t, wrongExt), testMessage(t, oversized),
	})
	require.Len(t, result.Results, 3)
	for _, r := range result.Results {
		assert.Equal(t, OutcomeSkipped, r.Outcome)
	}
	reasons := map[string]bool{}
	for _, r := range result.Results {
		reasons[r.Reason] = true
	}
	assert.Equal(t, map[string]bool{"prefix": true, "extension": true, "size": true}, reasons)
	// skips are acknowledged, they are not failures
	assert.Len(t, result.AckTokens(), 3)
}

func TestProcessBatch_OutOfBandValueStoredWithWarning(t *testing.T) {
	ctx := context.Background()
	raw := rawinmem.NewStore("raw")
	records := recordinmem.NewStore("records", 1)
	p := NewProcessor(ctx, "work", raw, records, WithPlausibleBand(-90, 60))

	ref := upload(t, raw, "readings/hot.json", `{"sensorId":"s1","timestamp":"2026-02-27T10:15:30Z","temperature":9001}`)
	result := p.ProcessBatch(ctx, []*queue.Message{testMessage(t, ref)})
	assert.Equal(t, OutcomeAcked, result.Results[0].Outcome)

	stored, err := records.GetByKey(ctx, reading.Key{EntityID: "s1", Timestamp: "2026-02-27T10:15:30Z"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, float64(9001), stored.Value)
}

func TestProcessBatch_MissingObjectIsTransient(t *testing.T) {
	ctx := context.Background()
	p := NewProcessor(ctx, "work", rawinmem.NewStore("raw"), recordinmem.NewStore("records", 1))

	ref := rawstore.ObjectRef{Container: "uploads", Key: "readings/ghost.json"}
	result := p.ProcessBatch(ctx, []*queue.Message{testMessage(t, ref)})
	assert.Equal(t, OutcomeRedeliver, result.Results[0].Outcome)
	assert.Equal(t, "transient", result.Results[0].Reason)
}

func TestProcessBatch_IndependentOutcomes(t *testing.T) {
	ctx := context.Background()
	raw := rawinmem.NewStore("raw")
	records := recordinmem.NewStore("records", 1)
	p := NewProcessor(ctx, "work", raw, records)

	var messages []*queue.Message
	for i := 0; i < 5; i++ {
		ref := upload(t, raw, fmt.Sprintf("readings/r%d.json", i),
			fmt.Sprintf(`{"sensorId":"s%d","timestamp":"2026-02-27T10:15:30Z","temperature":%d}`, i, i))
		messages = append(messages, testMessage(t, ref))
	}
	bad := upload(t, raw, "readings/bad.json", `{"sensorId":"","timestamp":"2026-02-27T10:15:30Z","temperature":1}`)
	messages = append(messages, testMessage(t, bad))

	result := p.ProcessBatch(ctx, messages)
	require.Len(t, result.Results, 6)
	assert.Len(t, result.AckTokens(), 5)
	assert.Equal(t, OutcomeRedeliver, result.Results[5].Outcome)
}
