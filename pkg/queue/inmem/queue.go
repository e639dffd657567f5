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
Package inmem is an in-memory work queue that implements the queue interfaces.
This should be used only for local development and testing purposes. The
locking implementation is very coarse.
*/
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sensorpipe/sensorpipe/pkg/queue"
)

// Queue implements queue.Reader and queue.Writer with a visibility-timeout
// redelivery model and a companion dead-letter queue.
type Queue struct {
	name    string
	entries []*entry
	dlq     *Queue
	options *options
	lock    *sync.Mutex
	clock   func() time.Time
}

var _ queue.Reader = (*Queue)(nil)
var _ queue.Writer = (*Queue)(nil)

// entry is one queue element. acked entries are kept in place and skipped;
// the slice is the full audit trail of the queue for its lifetime.
type entry struct {
	id             string
	payload        []byte
	deliveryCount  int
	invisibleUntil time.Time
	receiptToken   string
	acked          bool
}

// NewQueue returns a new in-memory queue with its dead-letter queue attached.
func NewQueue(name string, opts ...Option) *Queue {
	queueOptions := &options{
		visibilityTimeout: 30 * time.Second,
		maxReceiveCount:   3,
	}
	for _, o := range opts {
		o(queueOptions)
	}
	return &Queue{
		name:    name,
		options: queueOptions,
		lock:    new(sync.Mutex),
		clock:   time.Now,
		dlq: &Queue{
			name:    name + "-dlq",
			options: queueOptions,
			lock:    new(sync.Mutex),
			clock:   time.Now,
		},
	}
}

// GetName returns the queue name.
func (q *Queue) GetName() string {
	return q.name
}

// DLQ returns the companion dead-letter queue.
func (q *Queue) DLQ() *Queue {
	return q.dlq
}

// Close does nothing.
func (q *Queue) Close() error {
	return nil
}

// Send enqueues the payloads.
func (q *Queue) Send(_ context.Context, payloads [][]byte) []error {
	errs := make([]error, len(payloads))
	q.lock.Lock()
	defer q.lock.Unlock()
	for _, p := range payloads {
		body := make([]byte, len(p))
		copy(body, p)
		q.entries = append(q.entries, &entry{id: uuid.NewString(), payload: body})
	}
	return errs
}

// Receive returns up to maxMessages visible messages, waiting up to waitTime
// for the first one. Entries that have exhausted their receive budget are
// moved to the DLQ instead of being delivered.
func (q *Queue) Receive(ctx context.Context, maxMessages int64, waitTime time.Duration) ([]*queue.Message, error) {
	deadline := q.clock().Add(waitTime)
	for {
		messages := q.receiveOnce(maxMessages)
		if len(messages) > 0 {
			return messages, nil
		}
		if q.clock().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(time.Millisecond):
		}
	}
}

func (q *Queue) receiveOnce(maxMessages int64) []*queue.Message {
	q.lock.Lock()
	defer q.lock.Unlock()
	now := q.clock()
	var messages []*queue.Message
	for _, e := range q.entries {
		if int64(len(messages)) >= maxMessages {
			break
		}
		if e.acked || now.Before(e.invisibleUntil) {
			continue
		}
		if e.deliveryCount >= q.options.maxReceiveCount {
			// receive budget exhausted, redrive to the DLQ
			q.dlq.lock.Lock()
			q.dlq.entries = append(q.dlq.entries, &entry{id: e.id, payload: e.payload})
			q.dlq.lock.Unlock()
			e.acked = true
			continue
		}
		e.deliveryCount++
		e.invisibleUntil = now.Add(q.options.visibilityTimeout)
		e.receiptToken = uuid.NewString()
		messages = append(messages, &queue.Message{
			ID:            e.id,
			Payload:       e.payload,
			ReceiptToken:  e.receiptToken,
			DeliveryCount: e.deliveryCount,
		})
	}
	return messages
}

// Ack consumes the given receipt tokens.
func (q *Queue) Ack(_ context.Context, receiptTokens []string) []error {
	errs := make([]error, len(receiptTokens))
	q.lock.Lock()
	defer q.lock.Unlock()
	now := q.clock()
	for i, token := range receiptTokens {
		e := q.findByToken(token)
		if e == nil {
			errs[i] = queue.AckErr{Name: q.name, Token: token, Message: "unknown receipt token"}
			continue
		}
		if now.After(e.invisibleUntil) {
			errs[i] = queue.AckErr{Name: q.name, Token: token, Expired: true, Message: "visibility window lapsed"}
			continue
		}
		e.acked = true
	}
	return errs
}

// ChangeVisibility extends the visibility window of an in-flight delivery.
func (q *Queue) ChangeVisibility(_ context.Context, receiptToken string, visibility time.Duration) error {
	q.lock.Lock()
	defer q.lock.Unlock()
	e := q.findByToken(receiptToken)
	if e == nil {
		return queue.AckErr{Name: q.name, Token: receiptToken, Message: "unknown receipt token"}
	}
	e.invisibleUntil = q.clock().Add(visibility)
	return nil
}

// Pending returns the count of receivable messages.
func (q *Queue) Pending(_ context.Context) (int64, error) {
	q.lock.Lock()
	defer q.lock.Unlock()
	now := q.clock()
	var pending int64
	for _, e := range q.entries {
		if !e.acked && !now.Before(e.invisibleUntil) {
			pending++
		}
	}
	return pending, nil
}

// findByToken is called with the lock held.
func (q *Queue) findByToken(token string) *entry {
	for _, e := range q.entries {
		if !e.acked && e.receiptToken == token && token != "" {
			return e
		}
	}
	return nil
}
