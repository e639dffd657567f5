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
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sensorpipe/sensorpipe/pkg/aggregator"
	redisagg "github.com/sensorpipe/sensorpipe/pkg/aggstore/redis"
	"github.com/sensorpipe/sensorpipe/pkg/config"
	"github.com/sensorpipe/sensorpipe/pkg/metrics"
	redisrecord "github.com/sensorpipe/sensorpipe/pkg/recordstore/redis"
	"github.com/sensorpipe/sensorpipe/pkg/runner"
	redisclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/redis"
	"github.com/sensorpipe/sensorpipe/pkg/shared/logging"
)

// NewAggregationProcessorCommand starts the aggregation stage: it tails
// change feed partitions and folds new records into hourly aggregates. With
// --partition it owns a single partition, otherwise it runs a consumer per
// partition in one process.
func NewAggregationProcessorCommand() *cobra.Command {
	var partition int32

	command := &cobra.Command{
		Use:   "aggregation-processor",
		Short: "Start the aggregation processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewLogger().Named("aggregation-processor")
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithLogger(ctx, log)

			conf, err := config.Load()
			if err != nil {
				return err
			}
			if partition >= conf.Partitions {
				return fmt.Errorf("partition %d out of range, the feed has %d partitions", partition, conf.Partitions)
			}

			redisClient := redisclient.NewEnvRedisClient()
			recordStore := redisrecord.NewStore(redisClient, conf.RecordStoreName, conf.Partitions)
			aggregateStore := redisagg.NewStore(redisClient, conf.AggregateStoreName)

			partitions := []int32{partition}
			if partition < 0 {
				partitions = partitions[:0]
				for p := int32(0); p < conf.Partitions; p++ {
					partitions = append(partitions, p)
				}
			}
			log.Infow("Starting aggregation processor", "partitions", partitions)

			consumer := consumerName()
			var pendingReaders []metrics.PendingReader
			runners := make([]*runner.AggregateRunner, 0, len(partitions))
			for _, p := range partitions {
				feed, err := redisrecord.NewFeedReader(ctx, recordStore, p, "aggregators", fmt.Sprintf("%s-%d", consumer, p))
				if err != nil {
					return fmt.Errorf("failed to open feed partition %d, %w", p, err)
				}
				processor := aggregator.NewProcessor(ctx, p, aggregateStore,
					aggregator.WithConcurrency(conf.Concurrency))
				runners = append(runners, runner.NewAggregateRunner(ctx, feed, processor,
					runner.WithBatchSize(conf.BatchSize)))
				pendingReaders = append(pendingReaders, feed)
			}

			metricsServer := metrics.NewMetricsServer(conf.MetricsPort,
				metrics.WithPendingReaders(pendingReaders...))
			shutdown, err := metricsServer.Start(ctx)
			if err != nil {
				return fmt.Errorf("failed to start metrics server, %w", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			g, gctx := errgroup.WithContext(ctx)
			for _, r := range runners {
				r := r
				g.Go(func() error {
					r.Start(gctx)
					return nil
				})
			}
			_ = g.Wait()
			log.Info("Exited aggregation processor")
			return nil
		},
	}
	command.Flags().Int32Var(&partition, "partition", -1, "Feed partition to consume, -1 for all")
	return command
}

func consumerName() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return uuid.NewString()
}
