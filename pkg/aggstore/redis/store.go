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

// Package redis implements the aggregate store on redis. The conditional
// write is a Lua compare-and-swap on the version carried inside the
// snapshot, so concurrent read-modify-write loops for the same key cannot
// overwrite each other.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/sensorpipe/sensorpipe/pkg/aggstore"
	redisclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/redis"
)

// casScript swaps the snapshot only if the stored version still equals the
// expected one. An absent key counts as version 0.
const casScript = `local expected = tonumber(ARGV[2])
local cur = redis.call('GET', KEYS[1])
if cur then
	local snapshot = cjson.decode(cur)
	if tonumber(snapshot['version']) ~= expected then
		return 0
	end
elseif expected ~= 0 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`

// Store is the redis-backed aggregate table.
type Store struct {
	name   string
	client *redisclient.RedisClient
	script *redis.Script
}

var _ aggstore.Store = (*Store)(nil)

// NewStore returns a redis aggregate store.
func NewStore(client *redisclient.RedisClient, name string) *Store {
	return &Store{
		name:   name,
		client: client,
		script: redis.NewScript(casScript),
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

func (s *Store) aggregateKey(key aggstore.Key) string {
	return fmt.Sprintf("%s:agg:{%s}", s.name, key)
}

// Get returns the snapshot for the key, or nil if absent.
func (s *Store) Get(ctx context.Context, key aggstore.Key) (*aggstore.Aggregate, error) {
	val, err := s.client.Client.Get(ctx, s.aggregateKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate %s, %w", key, err)
	}
	var a aggstore.Aggregate
	if err := json.Unmarshal([]byte(val), &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal aggregate %s, %w", key, err)
	}
	return &a, nil
}

// PutConditional writes the snapshot if the stored version still equals
// expectedVersion.
func (s *Store) PutConditional(ctx context.Context, aggregate *aggstore.Aggregate, expectedVersion int64) error {
	next := *aggregate
	next.Version = expectedVersion + 1
	val, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate %s, %w", aggregate.Key(), err)
	}
	swapped, err := s.script.Run(ctx, s.client.Client,
		[]string{s.aggregateKey(aggregate.Key())}, val, expectedVersion).Int()
	if err != nil {
		return fmt.Errorf("aggregate swap script failed for %s, %w", aggregate.Key(), err)
	}
	if swapped == 0 {
		return aggstore.VersionConflictErr{Key: aggregate.Key(), Expected: expectedVersion}
	}
	return nil
}
