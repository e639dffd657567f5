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

// Package config loads the pipeline configuration. Every setting has a
// default, can be overridden from an optional config file pointed to by
// SENSORPIPE_CONFIG, and from SENSORPIPE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration shared by the processors.
type Config struct {
	// QueueName is the work queue carrying upload notifications; the DLQ is
	// derived from it.
	QueueName string `mapstructure:"queueName"`
	// RecordStoreName is the canonical record table and its change feed.
	RecordStoreName string `mapstructure:"recordStoreName"`
	// AggregateStoreName is the hourly aggregate table.
	AggregateStoreName string `mapstructure:"aggregateStoreName"`
	// RawStoreName is the raw object store.
	RawStoreName string `mapstructure:"rawStoreName"`
	// Partitions is the change feed partition count. Changing it on a live
	// feed reshuffles entity ownership, so it must stay constant per
	// deployment.
	Partitions int32 `mapstructure:"partitions"`

	KeyPrefix      string        `mapstructure:"keyPrefix"`
	Extension      string        `mapstructure:"extension"`
	MaxObjectBytes int64         `mapstructure:"maxObjectBytes"`
	PlausibleMin   float64       `mapstructure:"plausibleMin"`
	PlausibleMax   float64       `mapstructure:"plausibleMax"`
	Visibility     time.Duration `mapstructure:"visibility"`
	MaxReceives    int           `mapstructure:"maxReceives"`
	BatchSize      int64         `mapstructure:"batchSize"`
	Concurrency    int           `mapstructure:"concurrency"`
	MetricsPort    int           `mapstructure:"metricsPort"`
}

// EnvConfigFile points to an optional config file.
const EnvConfigFile = "SENSORPIPE_CONFIG"

// Load builds the configuration from defaults, the optional config file and
// the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("queueName", "sensor-uploads")
	v.SetDefault("recordStoreName", "sensor-records")
	v.SetDefault("aggregateStoreName", "sensor-aggregates")
	v.SetDefault("rawStoreName", "sensor-raw")
	v.SetDefault("partitions", 4)
	v.SetDefault("keyPrefix", "readings/")
	v.SetDefault("extension", ".json")
	v.SetDefault("maxObjectBytes", 1024*1024)
	v.SetDefault("plausibleMin", -90.0)
	v.SetDefault("plausibleMax", 60.0)
	v.SetDefault("visibility", 30*time.Second)
	v.SetDefault("maxReceives", 3)
	v.SetDefault("batchSize", 64)
	v.SetDefault("concurrency", 4)
	v.SetDefault("metricsPort", 2470)

	v.SetEnvPrefix("sensorpipe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file, ok := os.LookupEnv(EnvConfigFile); ok {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s, %w", file, err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config, %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Partitions <= 0 {
		return fmt.Errorf("partitions must be positive, got %d", c.Partitions)
	}
	if c.Visibility <= 0 {
		return fmt.Errorf("visibility must be positive, got %s", c.Visibility)
	}
	if c.MaxReceives <= 0 {
		return fmt.Errorf("maxReceives must be positive, got %d", c.MaxReceives)
	}
	if c.PlausibleMin > c.PlausibleMax {
		return fmt.Errorf("plausible band [%v, %v] is inverted", c.PlausibleMin, c.PlausibleMax)
	}
	return nil
}
