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

package inmem

import "time"

type options struct {
	visibilityTimeout time.Duration
	maxReceiveCount   int
}

// Option to customize the queue.
type Option func(*options)

// WithVisibilityTimeout sets how long a received message stays invisible.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *options) {
		o.visibilityTimeout = d
	}
}

// WithMaxReceiveCount sets how many deliveries a message gets before it is
// moved to the DLQ.
func WithMaxReceiveCount(n int) Option {
	return func(o *options) {
		o.maxReceiveCount = n
	}
}
