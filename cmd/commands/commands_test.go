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
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	natsclient "github.com/sensorpipe/sensorpipe/pkg/shared/clients/nats"
)

func Test_Commands(t *testing.T) {
	t.Run("root help", func(t *testing.T) {
		b := bytes.NewBufferString("")
		rootCmd.SetOut(b)
		rootCmd.SetArgs([]string{"help"})
		Execute()
		output, _ := io.ReadAll(b)
		assert.Contains(t, string(output), "Available Commands")
	})

	t.Run("aggregation processor flags", func(t *testing.T) {
		cmd := NewAggregationProcessorCommand()
		assert.Equal(t, "aggregation-processor", cmd.Use)
		assert.True(t, cmd.HasLocalFlags())
		assert.Equal(t, "int32", cmd.Flag("partition").Value.Type())
	})

	t.Run("ingestion processor requires jetstream url", func(t *testing.T) {
		_ = os.Unsetenv(natsclient.EnvJetStreamURL)
		cmd := NewIngestionProcessorCommand()
		assert.Equal(t, "ingestion-processor", cmd.Use)
		cmd.SetArgs([]string{})
		err := cmd.Execute()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "SENSORPIPE_JETSTREAM_URL")
	})

	t.Run("dlq redrive flags", func(t *testing.T) {
		cmd := NewDLQRedriveCommand()
		assert.Equal(t, "dlq-redrive", cmd.Use)
		assert.Equal(t, "int64", cmd.Flag("limit").Value.Type())
	})
}
