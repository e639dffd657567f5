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

package reading

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// SchemaError is a permanent validation failure. A payload that fails with a
// SchemaError can never succeed on redelivery and must end up in the DLQ.
type SchemaError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid reading: field %q %s", e.Field, e.Message)
}

// rawPayload keeps temperature as raw bytes so that the numeric-type rule can
// be enforced at the token level. A quoted "22.5" must be rejected even
// though it would parse; numeric type is mandatory, not just parseable.
type rawPayload struct {
	SensorID    *string         `json:"sensorId"`
	Timestamp   *string         `json:"timestamp"`
	Temperature json.RawMessage `json:"temperature"`
	Location    *string         `json:"location"`
	Unit        *string         `json:"unit"`
}

// Parse validates a raw payload against the producer contract and returns
// the canonical reading. SourceKey and ProcessedAt are stamped by the caller.
func Parse(payload []byte) (*SensorReading, error) {
	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &SchemaError{Field: "payload", Message: fmt.Sprintf("is not valid JSON, %v", err)}
	}
	if raw.SensorID == nil || *raw.SensorID == "" {
		return nil, &SchemaError{Field: "sensorId", Message: "is required and must be non-empty"}
	}
	if raw.Timestamp == nil {
		return nil, &SchemaError{Field: "timestamp", Message: "is required"}
	}
	// RFC3339 requires an explicit zone designator, which is exactly the
	// timezone-qualified rule we need.
	if _, err := time.Parse(time.RFC3339, *raw.Timestamp); err != nil {
		return nil, &SchemaError{Field: "timestamp", Message: fmt.Sprintf("%q is not a timezone-qualified ISO-8601 timestamp", *raw.Timestamp)}
	}
	value, err := parseNumeric(raw.Temperature)
	if err != nil {
		return nil, err
	}

	r := &SensorReading{
		EntityID:  *raw.SensorID,
		Timestamp: *raw.Timestamp,
		Value:     value,
	}
	if raw.Location != nil {
		r.Location = *raw.Location
	}
	if raw.Unit != nil {
		r.Unit = *raw.Unit
	}
	return r, nil
}

// parseNumeric enforces that temperature was sent as a JSON number.
func parseNumeric(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, &SchemaError{Field: "temperature", Message: "is required"}
	}
	if raw[0] == '"' {
		return 0, &SchemaError{Field: "temperature", Message: "must be a JSON number, got a string"}
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, &SchemaError{Field: "temperature", Message: fmt.Sprintf("must be a JSON number, got %s", raw)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &SchemaError{Field: "temperature", Message: "must be finite"}
	}
	return v, nil
}

// InBand reports whether the value falls inside the plausible domain band.
// Out-of-band values are NOT rejected; the caller logs a warning and keeps
// going. Only type violations fail hard.
func (r *SensorReading) InBand(min, max float64) bool {
	return r.Value >= min && r.Value <= max
}
