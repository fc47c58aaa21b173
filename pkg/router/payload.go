// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/absmach/dgate/pkg/errors"
)

// ValidationError reports a payload that does not match its channel's shape.
type ValidationError struct {
	Channel Channel
	Payload []byte
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload %q: %v; expected %s", e.Channel, e.Payload, e.Err, e.Channel.shape())
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Addressed is a validated direct or group message.
type Addressed struct {
	Target  string          `json:"target"`
	Message json.RawMessage `json:"message"`
}

// ParseTelemetry checks that payload is a non-empty JSON document.
func ParseTelemetry(payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return &ValidationError{Channel: Telemetry, Payload: payload, Err: errors.ErrEmptyPayload}
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return &ValidationError{Channel: Telemetry, Payload: payload, Err: errors.Wrap(errors.ErrMalformedPayload, err.Error())}
	}
	if empty(doc) {
		return &ValidationError{Channel: Telemetry, Payload: payload, Err: errors.ErrEmptyPayload}
	}

	return nil
}

// ParseAddressed decodes a direct or group message and checks its required fields.
func ParseAddressed(ch Channel, payload []byte) (Addressed, error) {
	var msg Addressed
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Addressed{}, &ValidationError{Channel: ch, Payload: payload, Err: errors.Wrap(errors.ErrMalformedPayload, err.Error())}
	}

	if msg.Target == "" || emptyRaw(msg.Message) {
		return Addressed{}, &ValidationError{Channel: ch, Payload: payload, Err: errors.ErrMissingFields}
	}

	return msg, nil
}

func empty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	case string:
		return val == ""
	default:
		return false
	}
}

func emptyRaw(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`))
}
