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

package aggregator

import "time"

type options struct {
	// storeTimeout bounds every aggregate store call.
	storeTimeout time.Duration
	// conflictRetries bounds the optimistic read-modify-write loop.
	conflictRetries int
	// conflictRetryInterval is the initial backoff between retries.
	conflictRetryInterval time.Duration
	// concurrency is the fan-out across distinct entities in a batch.
	concurrency int
}

func defaultOptions() *options {
	return &options{
		storeTimeout:          10 * time.Second,
		conflictRetries:       8,
		conflictRetryInterval: 5 * time.Millisecond,
		concurrency:           4,
	}
}

// Option to customize the processor.
type Option func(*options)

// WithStoreTimeout bounds every aggregate store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) {
		o.storeTimeout = d
	}
}

// WithConflictRetries bounds the optimistic concurrency retry loop.
func WithConflictRetries(n int) Option {
	return func(o *options) {
		o.conflictRetries = n
	}
}

// WithConflictRetryInterval sets the initial backoff between conflict
// retries.
func WithConflictRetryInterval(d time.Duration) Option {
	return func(o *options) {
		o.conflictRetryInterval = d
	}
}

// WithConcurrency sets the fan-out across distinct entities.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}
