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

// Package inmem implements the record store and its change feed in memory,
// for local development and testing purposes. The locking is very coarse.
package inmem

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/sensorpipe/sensorpipe/pkg/reading"
	"github.com/sensorpipe/sensorpipe/pkg/recordstore"
)

// Store is an in-memory record table with a partitioned change feed.
type Store struct {
	name       string
	partitions int32
	records    map[string]reading.SensorReading
	feeds      []*feedPartition
	lock       *sync.RWMutex
}

var _ recordstore.Store = (*Store)(nil)

type feedPartition struct {
	elems []*feedElem
	lock  *sync.Mutex
}

type feedElem struct {
	event   recordstore.ChangeEvent
	pending bool
	acked   bool
}

// NewStore returns a new in-memory record store with the given number of
// change feed partitions.
func NewStore(name string, partitions int32) *Store {
	feeds := make([]*feedPartition, partitions)
	for i := range feeds {
		feeds[i] = &feedPartition{lock: new(sync.Mutex)}
	}
	return &Store{
		name:       name,
		partitions: partitions,
		records:    make(map[string]reading.SensorReading),
		feeds:      feeds,
		lock:       new(sync.RWMutex),
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

// Put inserts the record and emits an INSERT change event on the entity's
// feed partition. Duplicate identities return a ConflictErr without a second
// event.
func (s *Store) Put(_ context.Context, r *reading.SensorReading) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	key := r.Key().String()
	if _, ok := s.records[key]; ok {
		return recordstore.ConflictErr{Key: r.Key()}
	}
	s.records[key] = *r

	stored := s.records[key]
	partition := recordstore.PartitionFor(r.EntityID, s.partitions)
	feed := s.feeds[partition]
	feed.lock.Lock()
	feed.elems = append(feed.elems, &feedElem{
		event: recordstore.ChangeEvent{EventType: recordstore.EventInsert, NewRecord: &stored},
	})
	feed.lock.Unlock()
	return nil
}

// GetByKey returns the record for the key, or nil if absent.
func (s *Store) GetByKey(_ context.Context, key reading.Key) (*reading.SensorReading, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	r, ok := s.records[key.String()]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// FeedReader is the reader of one in-memory feed partition.
type FeedReader struct {
	store     *Store
	partition int32
}

var _ recordstore.FeedReader = (*FeedReader)(nil)

// NewFeedReader returns a reader for the given feed partition.
func NewFeedReader(store *Store, partition int32) *FeedReader {
	return &FeedReader{store: store, partition: partition}
}

// GetName returns the feed name.
func (fr *FeedReader) GetName() string {
	return fr.store.name + "-feed"
}

// GetPartitionIdx returns the partition this reader owns.
func (fr *FeedReader) GetPartitionIdx() int32 {
	return fr.partition
}

// Close does nothing.
func (fr *FeedReader) Close() error {
	return nil
}

// Read returns up to count unacknowledged events in feed order. Events
// handed out stay pending until acked or given up via NoAck.
func (fr *FeedReader) Read(_ context.Context, count int64) ([]*recordstore.ReadEvent, error) {
	feed := fr.store.feeds[fr.partition]
	feed.lock.Lock()
	defer feed.lock.Unlock()
	var events []*recordstore.ReadEvent
	for i, e := range feed.elems {
		if int64(len(events)) >= count {
			break
		}
		if e.acked || e.pending {
			continue
		}
		e.pending = true
		events = append(events, &recordstore.ReadEvent{
			ChangeEvent: e.event,
			Offset:      strconv.Itoa(i),
			Partition:   fr.partition,
		})
	}
	return events, nil
}

// Ack acknowledges the offsets.
func (fr *FeedReader) Ack(_ context.Context, offsets []string) []error {
	feed := fr.store.feeds[fr.partition]
	feed.lock.Lock()
	defer feed.lock.Unlock()
	errs := make([]error, len(offsets))
	for i, o := range offsets {
		idx, err := strconv.Atoi(o)
		if err != nil || idx < 0 || idx >= len(feed.elems) {
			errs[i] = fmt.Errorf("(%s) unknown offset %q", fr.GetName(), o)
			continue
		}
		feed.elems[idx].acked = true
		feed.elems[idx].pending = false
	}
	return errs
}

// NoAck gives the offsets back for redelivery.
func (fr *FeedReader) NoAck(_ context.Context, offsets []string) {
	feed := fr.store.feeds[fr.partition]
	feed.lock.Lock()
	defer feed.lock.Unlock()
	for _, o := range offsets {
		idx, err := strconv.Atoi(o)
		if err != nil || idx < 0 || idx >= len(feed.elems) {
			continue
		}
		feed.elems[idx].pending = false
	}
}

// Pending returns the count of unread events in the partition.
func (fr *FeedReader) Pending(_ context.Context) (int64, error) {
	feed := fr.store.feeds[fr.partition]
	feed.lock.Lock()
	defer feed.lock.Unlock()
	var pending int64
	for _, e := range feed.elems {
		if !e.acked && !e.pending {
			pending++
		}
	}
	return pending, nil
}
