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

// Package inmem implements the raw store backed by a map, for local
// development and testing purposes.
package inmem

import (
	"context"
	"sync"

	"github.com/sensorpipe/sensorpipe/pkg/rawstore"
)

// Store is an in-memory raw object store.
type Store struct {
	name    string
	objects map[rawstore.ObjectRef][]byte
	lock    *sync.RWMutex
}

var _ rawstore.Store = (*Store)(nil)

// NewStore returns a new in-memory raw store.
func NewStore(name string) *Store {
	return &Store{
		name:    name,
		objects: make(map[rawstore.ObjectRef][]byte),
		lock:    new(sync.RWMutex),
	}
}

// GetName returns the store name.
func (s *Store) GetName() string {
	return s.name
}

// Close does nothing.
func (s *Store) Close() error {
	return nil
}

// Get fetches the object bytes.
func (s *Store) Get(_ context.Context, ref rawstore.ObjectRef) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	data, ok := s.objects[ref]
	if !ok {
		return nil, rawstore.NotFoundErr{Ref: ref}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Head returns the object metadata.
func (s *Store) Head(_ context.Context, ref rawstore.ObjectRef) (*rawstore.ObjectInfo, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	data, ok := s.objects[ref]
	if !ok {
		return nil, rawstore.NotFoundErr{Ref: ref}
	}
	return &rawstore.ObjectInfo{Ref: ref, Size: int64(len(data))}, nil
}

// Put uploads an object.
func (s *Store) Put(_ context.Context, ref rawstore.ObjectRef, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	body := make([]byte, len(data))
	copy(body, data)
	s.objects[ref] = body
	return nil
}
