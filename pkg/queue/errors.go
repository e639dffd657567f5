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

package queue

import "fmt"

// ReceiveErr is returned when messages cannot be received.
type ReceiveErr struct {
	Name    string
	Message string
}

func (e ReceiveErr) Error() string {
	return fmt.Sprintf("(%s) %s", e.Name, e.Message)
}

// AckErr is returned when a receipt token cannot be consumed. Expired is set
// when the token's visibility window has already lapsed, which means the
// delivery will be retried by another receive.
type AckErr struct {
	Name    string
	Token   string
	Expired bool
	Message string
}

func (e AckErr) Error() string {
	return fmt.Sprintf("(%s) token %s: %s", e.Name, e.Token, e.Message)
}

// IsExpired returns true if the receipt token was no longer valid.
func (e AckErr) IsExpired() bool {
	return e.Expired
}

// SendErr is returned when a payload cannot be enqueued.
type SendErr struct {
	Name    string
	Message string
}

func (e SendErr) Error() string {
	return fmt.Sprintf("(%s) %s", e.Name, e.Message)
}
