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

// Package inmem implements the aggregate store in memory, for local
// development and testing purposes.
package inmem

import (
	"context"
	"sync"

	"github.com/sensorpipe/sensorpipe/pkg/aggstore"
)

// Store is an in-memory aggregate table with version-conditional writes.
type Store struct {
	name       string
	aggregates map[string]*aggstore.Aggregate
	lock       *sync.Mutex
}

var _ aggstore.Store = (*Store)(nil)

// NewStore returns a new in-memory aggregate store.
func NewStore(name string) *Store {
	return &Store{
		name:       name,
		aggregates: make(map[string]*aggstore.Aggregate),
		lock:       new(sync.Mutex),
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

// Get returns a copy of the snapshot for the key, or nil if absent.
func (s *Store) Get(_ context.Context, key aggstore.Key) (*aggstore.Aggregate, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	a, ok := s.aggregates[key.String()]
	if !ok {
		return nil, nil
	}
	return copyAggregate(a), nil
}

// PutConditional writes the snapshot if the stored version still equals
// expectedVersion.
func (s *Store) PutConditional(_ context.Context, aggregate *aggstore.Aggregate, expectedVersion int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	key := aggregate.Key()
	var currentVersion int64
	if current, ok := s.aggregates[key.String()]; ok {
		currentVersion = current.Version
	}
	if currentVersion != expectedVersion {
		return aggstore.VersionConflictErr{Key: key, Expected: expectedVersion}
	}
	stored := copyAggregate(aggregate)
	stored.Version = expectedVersion + 1
	s.aggregates[key.String()] = stored
	return nil
}

func copyAggregate(a *aggstore.Aggregate) *aggstore.Aggregate {
	out := *a
	out.Folded = make(map[string]bool, len(a.Folded))
	for k, v := range a.Folded {
		out.Folded[k] = v
	}
	return &out
}
