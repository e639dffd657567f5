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

package jetstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorpipe/sensorpipe/pkg/rawstore"
	natsclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/nats"
	natstest "github.com/sensorpipe/sensorpipe/pkg/shared/clients/nats/test"
)

func TestObjectStore_PutHeadGet(t *testing.T) {
	s := natstest.RunJetStreamServer(t)
	defer natstest.ShutdownJetStreamServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := natsclient.NewNATSClient(ctx, s.ClientURL())
	require.NoError(t, err)
	defer client.Close()

	store, err := NewStore(client, "raw")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ref := rawstore.ObjectRef{Container: "raw-data", Key: "readings/s-1.json"}
	payload := []byte(`{"sensorId":"s-1","timestamp":"2026-02-27T10:15:30Z","temperature":22.5}`)
	require.NoError(t, store.Put(ctx, ref, payload))

	info, err := store.Head(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size)
	assert.Equal(t, ref, info.Ref)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestObjectStore_NotFound(t *testing.T) {
	s := natstest.RunJetStreamServer(t)
	defer natstest.ShutdownJetStreamServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := natsclient.NewNATSClient(ctx, s.ClientURL())
	require.NoError(t, err)
	defer client.Close()

	store, err := NewStore(client, "raw")
	require.NoError(t, err)

	ref := rawstore.ObjectRef{Container: "raw-data", Key: "readings/missing.json"}
	_, err = store.Get(ctx, ref)
	assert.True(t, rawstore.IsNotFound(err))
	_, err = store.Head(ctx, ref)
	assert.True(t, rawstore.IsNotFound(err))
}

func TestObjectStore_SeparateContainers(t *testing.T) {
	s := natstest.RunJetStreamServer(t)
	defer natstest.ShutdownJetStreamServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := natsclient.NewNATSClient(ctx, s.ClientURL())
	require.NoError(t, err)
	defer client.Close()

	store, err := NewStore(client, "raw")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, rawstore.ObjectRef{Container: "bucket-a", Key: "readings/x.json"}, []byte("a")))
	require.NoError(t, store.Put(ctx, rawstore.ObjectRef{Container: "bucket-b", Key: "readings/x.json"}, []byte("b")))

	data, err := store.Get(ctx, rawstore.ObjectRef{Container: "bucket-a", Key: "readings/x.json"})
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)

	_, err = store.Get(ctx, rawstore.ObjectRef{Container: "bucket-a", Key: "readings/y.json"})
	assert.True(t, rawstore.IsNotFound(err))
}
