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

// Package jetstream implements the work queue on a NATS JetStream work-queue
// stream with a durable pull consumer. The consumer's AckWait is the
// visibility window, InProgress restarts it, and NumDelivered is the
// delivery count. A message delivered more than the max receive count is
// forwarded to the companion DLQ stream and removed from the main queue.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sensorpipe/sensorpipe/pkg/queue"
	natsclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/nats"
	"github.com/sensorpipe/sensorpipe/pkg/shared/logging"
)

// Queue implements queue.Reader and queue.Writer on JetStream.
type Queue struct {
	name    string
	stream  string
	subject string
	js      nats.JetStreamContext
	sub     *nats.Subscription
	dlq     *Queue
	opts    *options
	// inFlight holds the un-acked deliveries by receipt token. tokenBySeq
	// maps a stream sequence to its latest token, so that when a lapsed
	// message is delivered again the previous, now dead token is dropped
	// instead of lingering forever.
	inFlight   map[string]*delivery
	tokenBySeq map[uint64]string
	lock       *sync.Mutex
	log        *zap.SugaredLogger
}

type delivery struct {
	msg *nats.Msg
	seq uint64
}

var _ queue.Reader = (*Queue)(nil)
var _ queue.Writer = (*Queue)(nil)

// NewQueue returns a JetStream work queue, creating the stream, the DLQ
// stream and the durable consumers when they do not exist yet.
func NewQueue(ctx context.Context, client *natsclient.Client, name string, opts ...Option) (*Queue, error) {
	queueOptions := &options{
		visibilityTimeout: 30 * time.Second,
		maxReceiveCount:   3,
	}
	for _, o := range opts {
		o(queueOptions)
	}
	js, err := client.JetStreamContext()
	if err != nil {
		return nil, err
	}

	dlq, err := newStreamQueue(ctx, js, name+"-dlq", queueOptions, nil)
	if err != nil {
		return nil, err
	}
	return newStreamQueue(ctx, js, name, queueOptions, dlq)
}

func newStreamQueue(ctx context.Context, js nats.JetStreamContext, name string, queueOptions *options, dlq *Queue) (*Queue, error) {
	q := &Queue{
		name:       name,
		stream:     name,
		subject:    name + ".msg",
		js:         js,
		dlq:        dlq,
		opts:       queueOptions,
		inFlight:   make(map[string]*delivery),
		tokenBySeq: make(map[uint64]string),
		lock:       new(sync.Mutex),
		log:        logging.FromContext(ctx).With("queue", name),
	}
	if _, err := js.StreamInfo(q.stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("failed to query stream %s, %w", q.stream, err)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      q.stream,
			Subjects:  []string{q.subject},
			Retention: nats.WorkQueuePolicy,
		}); err != nil {
			return nil, fmt.Errorf("failed to create stream %s, %w", q.stream, err)
		}
	}
	sub, err := js.PullSubscribe(q.subject, q.stream,
		nats.AckExplicit(),
		nats.AckWait(queueOptions.visibilityTimeout),
		// one extra delivery for the redrive hop to the DLQ
		nats.MaxDeliver(queueOptions.maxReceiveCount+1))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s, %w", q.subject, err)
	}
	q.sub = sub
	return q, nil
}

// GetName returns the queue name.
func (q *Queue) GetName() string {
	return q.name
}

// DLQ returns the companion dead-letter queue.
func (q *Queue) DLQ() *Queue {
	return q.dlq
}

// Close unsubscribes the pull consumer binding; the durable consumer and its
// pending state survive for the next worker.
func (q *Queue) Close() error {
	if q.sub != nil {
		return q.sub.Unsubscribe()
	}
	return nil
}

// Send enqueues the payloads.
func (q *Queue) Send(ctx context.Context, payloads [][]byte) []error {
	errs := make([]error, len(payloads))
	for i, p := range payloads {
		if _, err := q.js.Publish(q.subject, p, nats.Context(ctx)); err != nil {
			errs[i] = queue.SendErr{Name: q.name, Message: err.Error()}
		}
	}
	return errs
}

// Receive fetches up to maxMessages messages. Poison messages whose receive
// budget is exhausted are forwarded to the DLQ here and acknowledged on the
// main queue.
func (q *Queue) Receive(ctx context.Context, maxMessages int64, waitTime time.Duration) ([]*queue.Message, error) {
	msgs, err := q.sub.Fetch(int(maxMessages), nats.MaxWait(waitTime))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, queue.ReceiveErr{Name: q.name, Message: err.Error()}
	}
	var messages []*queue.Message
	for _, msg := range msgs {
		meta, err := msg.Metadata()
		if err != nil {
			q.log.Errorw("Failed to read message metadata", zap.Error(err))
			continue
		}
		deliveryCount := int(meta.NumDelivered)
		seq := meta.Sequence.Stream
		// any earlier delivery of this sequence lapsed without an ack;
		// its token is dead now
		q.dropStaleToken(seq)
		if q.dlq != nil && deliveryCount > q.opts.maxReceiveCount {
			q.redrive(ctx, msg)
			continue
		}
		token := uuid.NewString()
		q.lock.Lock()
		q.inFlight[token] = &delivery{msg: msg, seq: seq}
		q.tokenBySeq[seq] = token
		q.lock.Unlock()
		messages = append(messages, &queue.Message{
			ID:            strconv.FormatUint(meta.Sequence.Stream, 10),
			Payload:       msg.Data,
			ReceiptToken:  token,
			DeliveryCount: deliveryCount,
		})
	}
	return messages, nil
}

// redrive moves a poison message to the DLQ and removes it from the main
// queue. If the DLQ publish fails the message is left to be redelivered once
// more; the move is at-least-once like everything else.
func (q *Queue) redrive(ctx context.Context, msg *nats.Msg) {
	if _, err := q.js.Publish(q.dlq.subject, msg.Data, nats.Context(ctx)); err != nil {
		q.log.Errorw("Failed to redrive message to DLQ", zap.Error(err))
		return
	}
	if err := msg.Ack(); err != nil {
		q.log.Warnw("Failed to ack redriven message", zap.Error(err))
	}
	q.log.Warnw("Message moved to DLQ after exhausting its receive budget", "dlq", q.dlq.GetName())
}

// dropStaleToken invalidates the previous receipt token of a redelivered
// stream sequence.
func (q *Queue) dropStaleToken(seq uint64) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if stale, ok := q.tokenBySeq[seq]; ok {
		delete(q.inFlight, stale)
		delete(q.tokenBySeq, seq)
	}
}

// Ack consumes the receipt tokens.
func (q *Queue) Ack(_ context.Context, receiptTokens []string) []error {
	errs := make([]error, len(receiptTokens))
	for i, token := range receiptTokens {
		q.lock.Lock()
		d, ok := q.inFlight[token]
		if ok {
			delete(q.inFlight, token)
			delete(q.tokenBySeq, d.seq)
		}
		q.lock.Unlock()
		if !ok {
			errs[i] = queue.AckErr{Name: q.name, Token: token, Message: "unknown receipt token"}
			continue
		}
		if err := d.msg.AckSync(); err != nil {
			errs[i] = queue.AckErr{Name: q.name, Token: token, Message: err.Error()}
		}
	}
	return errs
}

// ChangeVisibility restarts the ack window of an in-flight delivery. The
// window length is fixed by the consumer's AckWait; the requested duration
// only has to be non-zero.
func (q *Queue) ChangeVisibility(_ context.Context, receiptToken string, visibility time.Duration) error {
	if visibility <= 0 {
		return queue.AckErr{Name: q.name, Token: receiptToken, Message: "visibility must be positive"}
	}
	q.lock.Lock()
	d, ok := q.inFlight[receiptToken]
	q.lock.Unlock()
	if !ok {
		return queue.AckErr{Name: q.name, Token: receiptToken, Message: "unknown receipt token"}
	}
	return d.msg.InProgress()
}

// Pending returns the number of undelivered messages of the consumer.
func (q *Queue) Pending(_ context.Context) (int64, error) {
	info, err := q.sub.ConsumerInfo()
	if err != nil {
		return queue.PendingNotAvailable, err
	}
	return int64(info.NumPending), nil
}
