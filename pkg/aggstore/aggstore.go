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
Package aggstore defines the keyed durable table holding the current hourly
aggregate snapshot per (entityId, timeBucket). Writes are conditional on the
version read, so two concurrent read-modify-write loops for the same key
cannot silently overwrite each other; the loser gets a VersionConflictErr and
retries its fold on the fresher snapshot.
*/
package aggstore

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Key identifies one aggregate snapshot.
type Key struct {
	EntityID   string
	TimeBucket string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.EntityID, k.TimeBucket)
}

// Aggregate is the running per-bucket statistics snapshot. Avg is derived
// and equals Sum/Count after every completed write. Folded carries the
// record timestamps already folded into this bucket, which makes folds
// idempotent under change-event redelivery: the dedup check and the fold
// commit atomically through the same conditional write.
type Aggregate struct {
	EntityID      string          `json:"entityId"`
	TimeBucket    string          `json:"timeBucket"`
	Count         int64           `json:"count"`
	Sum           float64         `json:"sum"`
	Min           float64         `json:"min"`
	Max           float64         `json:"max"`
	Avg           float64         `json:"avg"`
	Location      string          `json:"location,omitempty"`
	FirstSeenAt   time.Time       `json:"firstSeenAt"`
	LastUpdatedAt time.Time       `json:"lastUpdatedAt"`
	Folded        map[string]bool `json:"folded"`

	// Version is the optimistic concurrency token, managed by the store.
	// 0 means the snapshot has never been written.
	Version int64 `json:"version"`
}

// Key returns the snapshot identity.
func (a *Aggregate) Key() Key {
	return Key{EntityID: a.EntityID, TimeBucket: a.TimeBucket}
}

// Store is the aggregate table contract.
type Store interface {
	io.Closer
	// GetName returns the store name.
	GetName() string
	// Get returns the snapshot for the key, or nil if absent.
	Get(ctx context.Context, key Key) (*Aggregate, error)
	// PutConditional writes the snapshot if the stored version still
	// equals expectedVersion (0 for a first write). On success the stored
	// version becomes expectedVersion+1; otherwise a VersionConflictErr
	// is returned and nothing is written.
	PutConditional(ctx context.Context, aggregate *Aggregate, expectedVersion int64) error
}

// VersionConflictErr means the snapshot changed between the read and the
// conditional write. Recoverable: re-read and retry the fold.
type VersionConflictErr struct {
	Key      Key
	Expected int64
}

func (e VersionConflictErr) Error() string {
	return fmt.Sprintf("aggregate %s changed since version %d was read", e.Key, e.Expected)
}

// IsVersionConflict returns true if err is an optimistic concurrency
// conflict.
func IsVersionConflict(err error) bool {
	_, ok := err.(VersionConflictErr)
	return ok
}
