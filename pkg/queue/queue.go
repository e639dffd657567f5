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
Package queue defines the at-least-once work queue the ingestion processor
consumes from. A received message stays invisible to other consumers for a
bounded visibility window and becomes receivable again if it is not
acknowledged within that window. A message that has been delivered more than
the queue's max receive count is moved to the companion dead-letter queue
instead of being delivered again.
*/
package queue

import (
	"context"
	"io"
	"math"
	"time"
)

const PendingNotAvailable = int64(math.MinInt64)

// Message is one received unit of work. The receipt token is only valid for
// the receive it was handed out on; it is consumed exactly once by a
// successful acknowledgment.
type Message struct {
	// ID is a stable identifier of the underlying queue entry, constant
	// across redeliveries.
	ID string
	// Payload is the notification body.
	Payload []byte
	// ReceiptToken acknowledges this particular delivery.
	ReceiptToken string
	// DeliveryCount is 1 on first delivery and grows on every redelivery.
	DeliveryCount int
}

// Reader is the consuming side of the work queue.
type Reader interface {
	io.Closer
	// GetName returns the queue name.
	GetName() string
	// Receive returns up to maxMessages messages, waiting up to waitTime
	// for the first one. Received messages are invisible to other
	// consumers until acknowledged or until their visibility window
	// lapses.
	Receive(ctx context.Context, maxMessages int64, waitTime time.Duration) ([]*Message, error)
	// Ack consumes the receipt tokens. Errors are positional.
	Ack(ctx context.Context, receiptTokens []string) []error
	// ChangeVisibility extends the visibility window of an in-flight
	// delivery, e.g. before fetching a large object.
	ChangeVisibility(ctx context.Context, receiptToken string, visibility time.Duration) error
	// Pending returns the count of receivable messages.
	Pending(ctx context.Context) (int64, error)
}

// Writer is the producing side of the work queue.
type Writer interface {
	io.Closer
	// GetName returns the queue name.
	GetName() string
	// Send enqueues the payloads. Errors are positional.
	Send(ctx context.Context, payloads [][]byte) []error
}
