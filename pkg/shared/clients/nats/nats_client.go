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

package nats

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sensorpipe/sensorpipe/pkg/shared/logging"
)

// EnvJetStreamURL holds the server url of the JetStream deployment backing
// the work queue and the raw object store.
const EnvJetStreamURL = "SENSORPIPE_JETSTREAM_URL"

// Client is a client for NATS server which can be shared by multiple
// connections (queue reader, queue writer, object store).
type Client struct {
	sync.Mutex
	nc    *nats.Conn
	jsCtx nats.JetStreamContext
	log   *zap.SugaredLogger
}

// NewNATSClient creates a new NATS client connected to the given url.
func NewNATSClient(ctx context.Context, url string, natsOptions ...nats.Option) (*Client, error) {
	log := logging.FromContext(ctx)
	opts := []nats.Option{
		// if max reconnects is set to -1, it will try to reconnect forever
		nats.MaxReconnects(-1),
		nats.PingInterval(3 * time.Second),
		nats.MaxPingsOutstanding(2),
		// retry on failed connect should be true, else it wont try to
		// reconnect during initial connect
		nats.RetryOnFailedConnect(true),
		nats.FlusherTimeout(10 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Errorw("Nats default: error occurred for subscription", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Errorw("Nats default: disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Nats default: reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("Nats default: connection closed")
		}),
	}
	opts = append(opts, natsOptions...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats url=%s, %w", url, err)
	}
	return &Client{nc: nc, log: log}, nil
}

// NewEnvNATSClient creates a client from the SENSORPIPE_JETSTREAM_URL
// environment variable.
func NewEnvNATSClient(ctx context.Context) (*Client, error) {
	url, existing := os.LookupEnv(EnvJetStreamURL)
	if !existing {
		return nil, fmt.Errorf("environment variable %q not found", EnvJetStreamURL)
	}
	return NewNATSClient(ctx, url)
}

// JetStreamContext returns a shared JetStream context of the client.
func (c *Client) JetStreamContext(opts ...nats.JSOpt) (nats.JetStreamContext, error) {
	c.Lock()
	defer c.Unlock()
	if c.jsCtx == nil {
		jsCtx, err := c.nc.JetStream(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to get JetStream context, %w", err)
		}
		c.jsCtx = jsCtx
	}
	return c.jsCtx, nil
}

// Subscribe is used to subscribe to a subject; mainly used for testing.
func (c *Client) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, cb)
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
