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

package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sensorpipe/sensorpipe/pkg/shared/logging"
)

var pending = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "sensorpipe",
	Name:      "pending_messages",
	Help:      "Messages waiting to be processed, per source",
}, []string{LabelQueue})

// PendingReader reports the backlog of a queue or a change feed partition.
type PendingReader interface {
	GetName() string
	Pending(ctx context.Context) (int64, error)
}

// metricsServer runs an HTTP server to:
// 1. Expose metrics;
// 2. Serve an endpoint to execute health checks
type metricsServer struct {
	port            int
	pendingReaders  []PendingReader
	refreshInterval time.Duration
	// Functions that health check executes
	healthCheckExecutors []func() error
}

type Option func(*metricsServer)

// WithPendingReaders sets the backlog sources exported as gauges.
func WithPendingReaders(readers ...PendingReader) Option {
	return func(m *metricsServer) {
		m.pendingReaders = append(m.pendingReaders, readers...)
	}
}

// WithRefreshInterval sets how often to refresh the pending information
func WithRefreshInterval(d time.Duration) Option {
	return func(m *metricsServer) {
		m.refreshInterval = d
	}
}

// WithHealthCheckExecutor appends a health check executor
func WithHealthCheckExecutor(f func() error) Option {
	return func(m *metricsServer) {
		m.healthCheckExecutors = append(m.healthCheckExecutors, f)
	}
}

// NewMetricsServer returns a Prometheus metrics server instance, which can be
// used to start an HTTP service to expose Prometheus metrics.
func NewMetricsServer(port int, opts ...Option) *metricsServer {
	m := new(metricsServer)
	m.port = port
	m.refreshInterval = 5 * time.Second // Default refresh interval
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start starts the HTTP service to expose metrics, it returns a shutdown
// function and an error if any.
func (ms *metricsServer) Start(ctx context.Context) (func(ctx context.Context) error, error) {
	log := logging.FromContext(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, ex := range ms.healthCheckExecutors {
			if err := ex(); err != nil {
				log.Errorw("Failed to execute health check", zap.Error(err))
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if os.Getenv("SENSORPIPE_DEBUG") == "true" {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		log.Info("Not enabling pprof debug endpoints")
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", ms.port),
		Handler: mux,
	}

	if len(ms.pendingReaders) > 0 {
		go ms.exportPending(ctx)
	}

	go func() {
		log.Info("Starting metrics HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("Failed to listen-and-serve metrics", zap.Error(err))
		}
		log.Info("Metrics server shutdown")
	}()
	return httpServer.Shutdown, nil
}

func (ms *metricsServer) exportPending(ctx context.Context) {
	log := logging.FromContext(ctx)
	ticker := time.NewTicker(ms.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, reader := range ms.pendingReaders {
				count, err := reader.Pending(ctx)
				if err != nil {
					log.Debugw("Failed to read pending count", "source", reader.GetName(), zap.Error(err))
					continue
				}
				pending.WithLabelValues(reader.GetName()).Set(float64(count))
			}
		}
	}
}
