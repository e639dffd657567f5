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

// Package reading defines the canonical sensor reading record and the
// validation that turns an untrusted raw payload into one. The wire shape
// accepted from producers is
//
//	{"sensorId": str, "timestamp": ISO8601 str, "temperature": number, "location": str, "unit": str}
//
// and rejecting that shape (missing fields or wrong types) is the only
// structural contract surfaced back to producers.
package reading

import (
	"fmt"
	"time"
)

// SensorReading is the canonical record persisted for every accepted
// payload. (EntityID, Timestamp) is the unique record identity; a second
// write with the same identity and the same SourceKey is a duplicate, not
// a new record. Immutable once written.
type SensorReading struct {
	EntityID    string    `json:"entityId"`
	Timestamp   string    `json:"timestamp"`
	Value       float64   `json:"value"`
	Location    string    `json:"location"`
	Unit        string    `json:"unit"`
	SourceKey   string    `json:"sourceKey"`
	ProcessedAt time.Time `json:"processedAt"`
}

// Key is the unique identity of a reading.
type Key struct {
	EntityID  string
	Timestamp string
}

// Key returns the record identity of the reading.
func (r *SensorReading) Key() Key {
	return Key{EntityID: r.EntityID, Timestamp: r.Timestamp}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.EntityID, k.Timestamp)
}

// bucketLayout truncates to the hour and keeps the original zone designator.
const bucketLayout = "2006-01-02T15:00:00Z07:00"

// HourBucket derives the aggregation bucket from an RFC3339 timestamp by
// truncating it to the start of its containing hour. Minutes and seconds are
// zero-filled and the zone designator is preserved, so two readings with the
// same wall-clock hour in the same zone always land in the same bucket.
func HourBucket(timestamp string) (string, error) {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return "", fmt.Errorf("timestamp %q is not RFC3339, %w", timestamp, err)
	}
	return t.Format(bucketLayout), nil
}

// Bucket returns the hourly bucket of the reading. The timestamp has already
// been validated, so a parse failure here is a programming error.
func (r *SensorReading) Bucket() string {
	b, err := HourBucket(r.Timestamp)
	if err != nil {
		panic(fmt.Sprintf("validated reading carries a bad timestamp: %v", err))
	}
	return b
}
