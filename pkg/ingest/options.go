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

package ingest

import "time"

type options struct {
	// keyPrefix is the namespace uploads must live under.
	keyPrefix string
	// extension is the only object suffix accepted.
	extension string
	// maxObjectSize is the skip threshold in bytes.
	maxObjectSize int64
	// largeObjectSize is the threshold above which the visibility window
	// is extended before fetching.
	largeObjectSize int64
	// extendedVisibility is the window requested for large objects.
	extendedVisibility time.Duration
	// bandMin/bandMax is the plausible domain band; values outside are
	// logged, never rejected.
	bandMin float64
	bandMax float64
	// storeTimeout bounds every raw store and record store call.
	storeTimeout time.Duration
	// concurrency is the intra-batch fan-out.
	concurrency int
	// extender, when set, is used to extend the visibility window of
	// messages referencing large objects.
	extender VisibilityExtender
}

func defaultOptions() *options {
	return &options{
		keyPrefix:          "readings/",
		extension:          ".json",
		maxObjectSize:      1 << 20, // 1 MiB
		largeObjectSize:    256 << 10,
		extendedVisibility: 2 * time.Minute,
		bandMin:            -90,
		bandMax:            60,
		storeTimeout:       10 * time.Second,
		concurrency:        4,
	}
}

// Option to customize the processor.
type Option func(*options)

// WithKeyPrefix sets the expected object namespace.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

// WithExtension sets the expected object suffix.
func WithExtension(ext string) Option {
	return func(o *options) {
		o.extension = ext
	}
}

// WithMaxObjectSize sets the size above which objects are skipped.
func WithMaxObjectSize(n int64) Option {
	return func(o *options) {
		o.maxObjectSize = n
	}
}

// WithLargeObjectSize sets the size above which the visibility window is
// extended before fetching.
func WithLargeObjectSize(n int64) Option {
	return func(o *options) {
		o.largeObjectSize = n
	}
}

// WithPlausibleBand sets the soft validation band.
func WithPlausibleBand(min, max float64) Option {
	return func(o *options) {
		o.bandMin = min
		o.bandMax = max
	}
}

// WithStoreTimeout bounds every external store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) {
		o.storeTimeout = d
	}
}

// WithConcurrency sets the intra-batch fan-out.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithVisibilityExtender lets the processor extend the visibility window
// before fetching large objects.
func WithVisibilityExtender(e VisibilityExtender) Option {
	return func(o *options) {
		o.extender = e
	}
}
