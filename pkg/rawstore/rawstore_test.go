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

package rawstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queueinmem "github.com/sensorpipe/sensorpipe/pkg/queue/inmem"
	"github.com/sensorpipe/sensorpipe/pkg/rawstore"
	rawinmem "github.com/sensorpipe/sensorpipe/pkg/rawstore/inmem"
)

func TestWithNotifications_PutEmitsEnvelope(t *testing.T) {
	ctx := context.Background()
	q := queueinmem.NewQueue("uploads")
	store := rawstore.WithNotifications(rawinmem.NewStore("raw"), q)

	ref := rawstore.ObjectRef{Container: "raw-data", Key: "readings/sensor-1.json"}
	require.NoError(t, store.Put(ctx, ref, []byte(`{"sensorId":"sensor-1"}`)))

	messages, err := q.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.JSONEq(t, `{"containerId":"raw-data","objectKey":"readings/sensor-1.json"}`, string(messages[0].Payload))

	var got rawstore.ObjectRef
	require.NoError(t, json.Unmarshal(messages[0].Payload, &got))
	assert.Equal(t, ref, got)

	// the decorated store still serves reads
	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"sensorId":"sensor-1"}`), data)
}

func TestWithNotifications_NoEventWithoutUpload(t *testing.T) {
	ctx := context.Background()
	q := queueinmem.NewQueue("uploads")
	store := rawstore.WithNotifications(rawinmem.NewStore("raw"), q)

	_, err := store.Get(ctx, rawstore.ObjectRef{Container: "raw-data", Key: "readings/none.json"})
	assert.True(t, rawstore.IsNotFound(err))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}
