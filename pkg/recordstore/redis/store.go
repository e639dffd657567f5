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

// Package redis implements the record store on redis. Records live under
// plain keys written with NX semantics, and the change feed is one redis
// stream per partition. The insert and its change event are committed by a
// single Lua script, so a record can never exist without its INSERT event or
// the other way around.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/sensorpipe/sensorpipe/pkg/reading"
	"github.com/sensorpipe/sensorpipe/pkg/recordstore"
	redisclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/redis"
)

// insertScript stores the record if absent and appends the INSERT event to
// the partition stream in the same transaction. Returns 0 on a duplicate
// identity.
const insertScript = `local ok = redis.call('SET', KEYS[1], ARGV[1], 'NX')
if not ok then
	return 0
end
redis.call('XADD', KEYS[2], '*', 'event', ARGV[2])
return 1
`

// Store is the redis-backed record table.
type Store struct {
	name       string
	partitions int32
	client     *redisclient.RedisClient
	script     *redis.Script
}

var _ recordstore.Store = (*Store)(nil)

// NewStore returns a redis record store with the given number of change feed
// partitions.
func NewStore(client *redisclient.RedisClient, name string, partitions int32) *Store {
	return &Store{
		name:       name,
		partitions: partitions,
		client:     client,
		script:     redis.NewScript(insertScript),
	}
}

// GetName returns the store name.
func (s *Store) GetName() string {
	return s.name
}

// Close does nothing; the client is shared and closed by its owner.
func (s *Store) Close() error {
	return nil
}

func (s *Store) recordKey(key reading.Key) string {
	return fmt.Sprintf("%s:record:{%s}", s.name, key)
}

// StreamName returns the stream key of one feed partition.
func (s *Store) StreamName(partition int32) string {
	return fmt.Sprintf("%s:feed:%d", s.name, partition)
}

// Put inserts the record and emits the INSERT event atomically.
func (s *Store) Put(ctx context.Context, r *reading.SensorReading) error {
	record, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s, %w", r.Key(), err)
	}
	partition := recordstore.PartitionFor(r.EntityID, s.partitions)
	event, err := json.Marshal(recordstore.ChangeEvent{EventType: recordstore.EventInsert, NewRecord: r})
	if err != nil {
		return fmt.Errorf("failed to marshal change event for %s, %w", r.Key(), err)
	}
	inserted, err := s.script.Run(ctx, s.client.Client,
		[]string{s.recordKey(r.Key()), s.StreamName(partition)}, record, event).Int()
	if err != nil {
		return fmt.Errorf("record insert script failed for %s, %w", r.Key(), err)
	}
	if inserted == 0 {
		return recordstore.ConflictErr{Key: r.Key()}
	}
	return nil
}

// GetByKey returns the record for the key, or nil if absent.
func (s *Store) GetByKey(ctx context.Context, key reading.Key) (*reading.SensorReading, error) {
	val, err := s.client.Client.Get(ctx, s.recordKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s, %w", key, err)
	}
	var r reading.SensorReading
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s, %w", key, err)
	}
	return &r, nil
}
