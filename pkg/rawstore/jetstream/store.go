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

// Package jetstream implements the raw object store on NATS JetStream object
// store buckets. Each container maps to one bucket, created on first use.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/sensorpipe/sensorpipe/pkg/rawstore"
	natsclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/nats"
)

// Store is the JetStream-backed raw object store.
type Store struct {
	name    string
	js      nats.JetStreamContext
	lock    sync.Mutex
	buckets map[string]nats.ObjectStore
}

var _ rawstore.Store = (*Store)(nil)

// NewStore returns a raw object store on the given client.
func NewStore(client *natsclient.Client, name string) (*Store, error) {
	js, err := client.JetStreamContext()
	if err != nil {
		return nil, err
	}
	return &Store{
		name:    name,
		js:      js,
		buckets: make(map[string]nats.ObjectStore),
	}, nil
}

// GetName returns the store name.
func (s *Store) GetName() string {
	return s.name
}

// Close does nothing; the client is shared and closed by its owner.
func (s *Store) Close() error {
	return nil
}

// bucket returns the object store bucket of the container, creating it on
// first use. Handles are cached per container.
func (s *Store) bucket(container string) (nats.ObjectStore, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if b, ok := s.buckets[container]; ok {
		return b, nil
	}
	b, err := s.js.ObjectStore(container)
	if errors.Is(err, nats.ErrStreamNotFound) || errors.Is(err, nats.ErrBucketNotFound) {
		b, err = s.js.CreateObjectStore(&nats.ObjectStoreConfig{Bucket: container})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s, %w", container, err)
	}
	s.buckets[container] = b
	return b, nil
}

// Get fetches the object bytes.
func (s *Store) Get(ctx context.Context, ref rawstore.ObjectRef) ([]byte, error) {
	b, err := s.bucket(ref.Container)
	if err != nil {
		return nil, err
	}
	data, err := b.GetBytes(ref.Key, nats.Context(ctx))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, rawstore.NotFoundErr{Ref: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s, %w", ref, err)
	}
	return data, nil
}

// Head returns the object metadata without fetching the payload.
func (s *Store) Head(ctx context.Context, ref rawstore.ObjectRef) (*rawstore.ObjectInfo, error) {
	b, err := s.bucket(ref.Container)
	if err != nil {
		return nil, err
	}
	info, err := b.GetInfo(ref.Key, nats.Context(ctx))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, rawstore.NotFoundErr{Ref: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to head object %s, %w", ref, err)
	}
	return &rawstore.ObjectInfo{Ref: ref, Size: int64(info.Size)}, nil
}

// Put uploads an object.
func (s *Store) Put(ctx context.Context, ref rawstore.ObjectRef, data []byte) error {
	b, err := s.bucket(ref.Container)
	if err != nil {
		return err
	}
	if _, err := b.PutBytes(ref.Key, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to put object %s, %w", ref, err)
	}
	return nil
}
