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

package ingest

import "github.com/sensorpipe/sensorpipe/pkg/queue"

// Outcome is the per-message verdict of a batch. A batch is a collection of
// independent outcomes, never an all-or-nothing unit.
type Outcome int

const (
	// OutcomeAcked means the message was fully processed (or was a
	// duplicate of an already-processed object) and must be acknowledged.
	OutcomeAcked Outcome = iota
	// OutcomeSkipped means the message was filtered out as expected
	// (wrong prefix, extension or size). Skips are acknowledged too;
	// redelivering them can never change the verdict.
	OutcomeSkipped
	// OutcomeRedeliver means the message must be left unacknowledged so
	// the visibility timeout redelivers it. Permanent failures take this
	// path as well and reach the DLQ once the receive budget runs out.
	OutcomeRedeliver
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcked:
		return "Acked"
	case OutcomeSkipped:
		return "Skipped"
	case OutcomeRedeliver:
		return "Redeliver"
	default:
		return "Unknown"
	}
}

// Result is the outcome of one message.
type Result struct {
	Message *queue.Message
	Outcome Outcome
	// Reason qualifies skips and redeliveries, e.g. "prefix",
	// "schema" or "transient".
	Reason string
	// Err is set for redeliveries.
	Err error
}

// BatchResult enumerates the independent outcomes of one ProcessBatch call.
type BatchResult struct {
	Results []Result
}

// AckTokens returns the receipt tokens the caller must acknowledge. All
// other messages must be left untouched.
func (br BatchResult) AckTokens() []string {
	var tokens []string
	for _, r := range br.Results {
		if r.Outcome == OutcomeAcked || r.Outcome == OutcomeSkipped {
			tokens = append(tokens, r.Message.ReceiptToken)
		}
	}
	return tokens
}
