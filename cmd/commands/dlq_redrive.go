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

package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensorpipe/sensorpipe/pkg/config"
	jsqueue "github.com/sensorpipe/sensorpipe/pkg/queue/jetstream"
	natsclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/nats"
	"github.com/sensorpipe/sensorpipe/pkg/shared/logging"
)

// NewDLQRedriveCommand moves messages from the dead-letter queue back onto
// the main work queue, typically after the defect that poisoned them is
// fixed. Redriven messages start with a fresh delivery budget.
func NewDLQRedriveCommand() *cobra.Command {
	var limit int64

	command := &cobra.Command{
		Use:   "dlq-redrive",
		Short: "Move dead-letter messages back to the work queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewLogger().Named("dlq-redrive")
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithLogger(ctx, log)

			conf, err := config.Load()
			if err != nil {
				return err
			}
			natsClient, err := natsclient.NewEnvNATSClient(ctx)
			if err != nil {
				return err
			}
			defer natsClient.Close()

			workQueue, err := jsqueue.NewQueue(ctx, natsClient, conf.QueueName,
				jsqueue.WithVisibilityTimeout(conf.Visibility),
				jsqueue.WithMaxReceiveCount(conf.MaxReceives))
			if err != nil {
				return fmt.Errorf("failed to open work queue, %w", err)
			}
			defer func() { _ = workQueue.Close() }()
			dlq := workQueue.DLQ()

			var moved int64
			for moved < limit {
				if ctx.Err() != nil {
					break
				}
				batch := conf.BatchSize
				if remaining := limit - moved; remaining < batch {
					batch = remaining
				}
				messages, err := dlq.Receive(ctx, batch, time.Second)
				if err != nil {
					return fmt.Errorf("failed to receive from DLQ, %w", err)
				}
				if len(messages) == 0 {
					break
				}
				payloads := make([][]byte, len(messages))
				tokens := make([]string, len(messages))
				for i, m := range messages {
					payloads[i] = m.Payload
					tokens[i] = m.ReceiptToken
				}
				for i, sendErr := range workQueue.Send(ctx, payloads) {
					if sendErr != nil {
						return fmt.Errorf("failed to redrive message %s, %w", messages[i].ID, sendErr)
					}
				}
				for i, ackErr := range dlq.Ack(ctx, tokens) {
					if ackErr != nil {
						// the copy is already on the main queue; ingestion
						// dedup absorbs the double redrive
						log.Warnw("Failed to remove redriven message from DLQ", "id", messages[i].ID)
					}
				}
				moved += int64(len(messages))
			}
			log.Infow("Redrive finished", "moved", moved)
			return nil
		},
	}
	command.Flags().Int64Var(&limit, "limit", 1000, "Max messages to redrive")
	return command
}
