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

	"github.com/spf13/cobra"

	"github.com/sensorpipe/sensorpipe/pkg/config"
	"github.com/sensorpipe/sensorpipe/pkg/ingest"
	"github.com/sensorpipe/sensorpipe/pkg/metrics"
	jsqueue "github.com/sensorpipe/sensorpipe/pkg/queue/jetstream"
	jsraw "github.com/sensorpipe/sensorpipe/pkg/rawstore/jetstream"
	redisrecord "github.com/sensorpipe/sensorpipe/pkg/recordstore/redis"
	"github.com/sensorpipe/sensorpipe/pkg/runner"
	natsclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/nats"
	redisclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/redis"
	"github.com/sensorpipe/sensorpipe/pkg/shared/logging"
)

// NewIngestionProcessorCommand starts the ingestion stage: it consumes upload
// notifications from the work queue, validates the raw payloads and writes
// canonical records.
func NewIngestionProcessorCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "ingestion-processor",
		Short: "Start the ingestion processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewLogger().Named("ingestion-processor")
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithLogger(ctx, log)

			conf, err := config.Load()
			if err != nil {
				return err
			}
			log.Infow("Starting ingestion processor", "queue", conf.QueueName)

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

			rawStore, err := jsraw.NewStore(natsClient, conf.RawStoreName)
			if err != nil {
				return fmt.Errorf("failed to open raw store, %w", err)
			}

			redisClient := redisclient.NewEnvRedisClient()
			recordStore := redisrecord.NewStore(redisClient, conf.RecordStoreName, conf.Partitions)

			processor := ingest.NewProcessor(ctx, workQueue.GetName(), rawStore, recordStore,
				ingest.WithKeyPrefix(conf.KeyPrefix),
				ingest.WithExtension(conf.Extension),
				ingest.WithMaxObjectSize(conf.MaxObjectBytes),
				ingest.WithPlausibleBand(conf.PlausibleMin, conf.PlausibleMax),
				ingest.WithConcurrency(conf.Concurrency),
				ingest.WithVisibilityExtender(workQueue))

			metricsServer := metrics.NewMetricsServer(conf.MetricsPort,
				metrics.WithPendingReaders(workQueue, workQueue.DLQ()))
			shutdown, err := metricsServer.Start(ctx)
			if err != nil {
				return fmt.Errorf("failed to start metrics server, %w", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			runner.NewIngestRunner(ctx, workQueue, processor,
				runner.WithBatchSize(conf.BatchSize)).Start(ctx)
			log.Info("Exited ingestion processor")
			return nil
		},
	}
	return command
}
