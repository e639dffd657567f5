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
Package recordstore defines the keyed durable table holding canonical sensor
readings. Every successful insert emits a change event on an ordered,
at-least-once change feed. The feed is split into partitions routed by a hash
of the entity id, so all events of one entity flow through one partition and
one consumer owns that lane.
*/
package recordstore

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/sensorpipe/sensorpipe/pkg/reading"
)

const PendingNotAvailable = int64(math.MinInt64)

// EventType is the kind of mutation a change event describes.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventModify EventType = "MODIFY"
	EventRemove EventType = "REMOVE"
)

// ChangeEvent is emitted by the store for every successful write. The
// aggregation processor only acts on INSERT.
type ChangeEvent struct {
	EventType EventType              `json:"eventType"`
	NewRecord *reading.SensorReading `json:"newRecord,omitempty"`
}

// ReadEvent is a change event read from the feed, with the offset needed to
// acknowledge it.
type ReadEvent struct {
	ChangeEvent
	Offset    string
	Partition int32
}

// Store is the record table contract.
type Store interface {
	io.Closer
	// GetName returns the store name.
	GetName() string
	// Put inserts the record. A second insert for the same
	// (entityId, timestamp) returns a ConflictErr and does not emit a
	// change event.
	Put(ctx context.Context, r *reading.SensorReading) error
	// GetByKey returns the record for the key, or nil if absent.
	GetByKey(ctx context.Context, key reading.Key) (*reading.SensorReading, error)
}

// FeedReader reads one partition of the change feed with at-least-once
// semantics. Events not acknowledged are redelivered on a later read.
type FeedReader interface {
	io.Closer
	// GetName returns the feed name.
	GetName() string
	// GetPartitionIdx returns the partition this reader owns.
	GetPartitionIdx() int32
	// Read returns up to count events.
	Read(ctx context.Context, count int64) ([]*ReadEvent, error)
	// Ack acknowledges the offsets. Errors are positional.
	Ack(ctx context.Context, offsets []string) []error
	// NoAck gives up on the offsets so they are redelivered.
	NoAck(ctx context.Context, offsets []string)
	// Pending returns the count of unread events in the partition.
	Pending(ctx context.Context) (int64, error)
}

// ConflictErr is returned by Put when the record identity already exists.
type ConflictErr struct {
	Key reading.Key
}

func (e ConflictErr) Error() string {
	return fmt.Sprintf("record %s already exists", e.Key)
}

// IsConflict returns true if err is a duplicate-insert conflict.
func IsConflict(err error) bool {
	_, ok := err.(ConflictErr)
	return ok
}

// PartitionFor routes an entity to a feed partition. All events for one
// entity land on the same partition, which keeps same-key aggregation
// serialized per consumer.
func PartitionFor(entityID string, partitions int32) int32 {
	return int32(xxhash.Sum64String(entityID) % uint64(partitions))
}
