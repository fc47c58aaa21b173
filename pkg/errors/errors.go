// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error taxonomy shared by the dgate components.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates an authentication or authorization denial.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedDevice indicates a device record without a usable identity.
	ErrMalformedDevice = errors.New("malformed device record")

	// ErrMalformedPayload indicates a payload that is not a JSON document.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrMissingFields indicates a message payload without non-empty "target" and "message" fields.
	ErrMissingFields = errors.New("missing required fields")

	// ErrEmptyPayload indicates a telemetry payload with no content.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrNotReady indicates an event that arrived before the engine received its configuration.
	ErrNotReady = errors.New("engine not ready")

	// ErrClosing indicates the engine no longer accepts routing decisions.
	ErrClosing = errors.New("engine is closing")
)

// Error wraps an error with the operation and the client it concerns.
type Error struct {
	Op        string // Operation that failed (publish, route, adddevice, ...)
	Channel   string // Routing channel, if any
	ClientID  string // Originating client, if any
	MessageID uint16 // Broker packet id of the publish, zero when it has none
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	op := e.Op
	if e.Channel != "" {
		op += " " + e.Channel
	}
	if e.ClientID != "" {
		op += " [" + e.ClientID + "]"
	}
	if e.MessageID != 0 {
		op += fmt.Sprintf(" message %d", e.MessageID)
	}
	return fmt.Sprintf("%s: %v", op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error. It returns nil if err is nil.
func New(op, channel, clientID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:       op,
		Channel:  channel,
		ClientID: clientID,
		Err:      err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
