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

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sensorpipe/sensorpipe/pkg/recordstore"
	redisclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/redis"
	"github.com/sensorpipe/sensorpipe/pkg/shared/logging"
)

// FeedReader reads one change feed partition through a redis stream consumer
// group.
// During a restart we need to make sure all the un-acknowledged events are
// reprocessed, so reads start from 0-0 (the pending entries list) and switch
// to > only once the backlog is drained. NoAck flips the reader back to
// backlog mode, which redelivers everything still unacknowledged.
type FeedReader struct {
	store        *Store
	partition    int32
	group        string
	consumer     string
	checkBackLog *atomic.Bool
	readTimeout  time.Duration
	log          *zap.SugaredLogger
}

var _ recordstore.FeedReader = (*FeedReader)(nil)

// NewFeedReader returns a reader for the given feed partition, creating the
// consumer group if needed.
func NewFeedReader(ctx context.Context, store *Store, partition int32, group, consumer string) (*FeedReader, error) {
	fr := &FeedReader{
		store:        store,
		partition:    partition,
		group:        group,
		consumer:     consumer,
		checkBackLog: atomic.NewBool(true),
		readTimeout:  time.Second,
		log: logging.FromContext(ctx).With("feedReader", store.GetName()).
			With("partition", partition).With("group", group),
	}
	err := store.client.CreateStreamGroup(redisclient.RedisContext, store.StreamName(partition), group, redisclient.ReadFromEarliest)
	if err != nil && !redisclient.IsAlreadyExistError(err) {
		return nil, fmt.Errorf("failed to create stream group %s, %w", group, err)
	}
	return fr, nil
}

// GetName returns the feed name.
func (fr *FeedReader) GetName() string {
	return fr.store.GetName() + "-feed"
}

// GetPartitionIdx returns the partition this reader owns.
func (fr *FeedReader) GetPartitionIdx() int32 {
	return fr.partition
}

// Close does nothing; the client is shared and closed by its owner.
func (fr *FeedReader) Close() error {
	return nil
}

// Read returns up to count events, draining the pending entries list before
// moving on to new entries.
func (fr *FeedReader) Read(_ context.Context, count int64) ([]*recordstore.ReadEvent, error) {
	if fr.checkBackLog.Load() {
		events, err := fr.readGroup(redisclient.ReadFromEarliest, count)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			return events, nil
		}
		// the pending entries list is drained, move to new entries
		fr.checkBackLog.Store(false)
	}
	return fr.readGroup(">", count)
}

func (fr *FeedReader) readGroup(start string, count int64) ([]*recordstore.ReadEvent, error) {
	result := fr.store.client.Client.XReadGroup(redisclient.RedisContext, &redis.XReadGroupArgs{
		Group:    fr.group,
		Consumer: fr.consumer,
		Streams:  []string{fr.store.StreamName(fr.partition), start},
		Count:    count,
		Block:    fr.readTimeout,
	})
	xstreams, err := result.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil, nil
		}
		return nil, fmt.Errorf("XReadGroup failed, %w", err)
	}
	var events []*recordstore.ReadEvent
	for _, xstream := range xstreams {
		for _, message := range xstream.Messages {
			raw, ok := message.Values["event"]
			if !ok {
				return events, fmt.Errorf("stream entry %s carries no event field", message.ID)
			}
			var event recordstore.ChangeEvent
			if err := json.Unmarshal([]byte(raw.(string)), &event); err != nil {
				return events, fmt.Errorf("failed to unmarshal event %s, %w", message.ID, err)
			}
			events = append(events, &recordstore.ReadEvent{
				ChangeEvent: event,
				Offset:      message.ID,
				Partition:   fr.partition,
			})
		}
	}
	return events, nil
}

// Ack acknowledges the offsets. Acks are pipelined through a single XAck.
func (fr *FeedReader) Ack(_ context.Context, offsets []string) []error {
	errs := make([]error, len(offsets))
	if err := fr.store.client.Client.XAck(redisclient.RedisContext, fr.store.StreamName(fr.partition), fr.group, offsets...).Err(); err != nil {
		for i := range offsets {
			errs[i] = err
		}
	}
	return errs
}

// NoAck leaves the offsets on the pending entries list and flips the reader
// back to backlog mode so they are redelivered on the next read.
func (fr *FeedReader) NoAck(_ context.Context, offsets []string) {
	if len(offsets) == 0 {
		return
	}
	fr.log.Debugw("Returning events to the backlog", zap.Int("count", len(offsets)))
	fr.checkBackLog.Store(true)
}

// Pending returns the in-flight count of the consumer group.
func (fr *FeedReader) Pending(_ context.Context) (int64, error) {
	count, err := fr.store.client.PendingMsgCount(redisclient.RedisContext, fr.store.StreamName(fr.partition), fr.group)
	if err != nil {
		return recordstore.PendingNotAvailable, err
	}
	return count, nil
}
