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

// Package rawstore defines the durable blob storage holding uploaded
// payloads. Objects are created on upload, read one or more times by the
// ingestion processor and never mutated. Every upload emits a creation
// notification onto the work queue so the pipeline is event driven.
package rawstore

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/sensorpipe/sensorpipe/pkg/queue"
)

// ObjectRef identifies a raw object. Its JSON form is the notification
// envelope carried on the work queue.
type ObjectRef struct {
	Container string `json:"containerId"`
	Key       string `json:"objectKey"`
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s/%s", r.Container, r.Key)
}

// ObjectInfo is the metadata returned by Head.
type ObjectInfo struct {
	Ref  ObjectRef
	Size int64
}

// Store is the blob storage contract consumed by the ingestion processor.
type Store interface {
	io.Closer
	// GetName returns the store name.
	GetName() string
	// Get fetches the object bytes.
	Get(ctx context.Context, ref ObjectRef) ([]byte, error)
	// Head returns the object metadata without fetching the payload.
	Head(ctx context.Context, ref ObjectRef) (*ObjectInfo, error)
	// Put uploads an object. Objects are immutable; overwriting an
	// existing key stores the same logical object again.
	Put(ctx context.Context, ref ObjectRef, data []byte) error
}

// NotFoundErr is returned when the referenced object does not exist.
type NotFoundErr struct {
	Ref ObjectRef
}

func (e NotFoundErr) Error() string {
	return fmt.Sprintf("object %s not found", e.Ref)
}

// IsNotFound returns true if err means the object does not exist.
func IsNotFound(err error) bool {
	_, ok := err.(NotFoundErr)
	return ok
}

// notifyingStore wraps a Store and sends a creation notification to the work
// queue after every successful upload.
type notifyingStore struct {
	Store
	writer queue.Writer
}

// WithNotifications decorates the store so that every Put emits an ObjectRef
// envelope on the given queue.
func WithNotifications(store Store, writer queue.Writer) Store {
	return &notifyingStore{Store: store, writer: writer}
}

func (s *notifyingStore) Put(ctx context.Context, ref ObjectRef, data []byte) error {
	if err := s.Store.Put(ctx, ref, data); err != nil {
		return err
	}
	envelope, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal notification for %s, %w", ref, err)
	}
	if errs := s.writer.Send(ctx, [][]byte{envelope}); errs[0] != nil {
		return fmt.Errorf("failed to send notification for %s, %w", ref, errs[0])
	}
	return nil
}
