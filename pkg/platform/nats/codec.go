// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/absmach/dgate/pkg/platform"
	"github.com/absmach/dgate/pkg/registry"
)

const (
	controlSubject = "control"
	eventsSubject  = "events"
)

// Notification names, used as the last subject token.
const (
	EventData         = "data"
	EventMessage      = "message"
	EventGroupMessage = "groupmessage"
	EventResponse     = "response"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventReady        = "ready"
	EventClosed       = "closed"
	EventLog          = "log"
	EventException    = "exception"
)

var (
	// ErrUnknownEvent is returned for control subjects naming no known event.
	ErrUnknownEvent = errors.New("unknown control event")

	// ErrInvalidBody is returned for control messages that are not valid JSON.
	ErrInvalidBody = errors.New("invalid control message body")
)

type readyBody struct {
	Options platform.Options  `json:"options"`
	Devices []registry.Device `json:"devices"`
}

type messageBody struct {
	Device    *registry.Device `json:"device"`
	Message   json.RawMessage  `json:"message"`
	MessageID string           `json:"messageId"`
}

type deviceBody struct {
	Device *registry.Device `json:"device"`
}

type dataNotification struct {
	ClientID string          `json:"clientId"`
	Payload  json.RawMessage `json:"payload"`
}

type messageNotification struct {
	Target  string          `json:"target"`
	Message json.RawMessage `json:"message"`
}

type responseNotification struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type clientNotification struct {
	ClientID string `json:"clientId"`
}

type exceptionNotification struct {
	Error string `json:"error"`
}

func controlPrefix(prefix string) string {
	return fmt.Sprintf("%s.%s.", prefix, controlSubject)
}

func eventSubject(prefix, name string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, eventsSubject, name)
}

// decode turns a control message into a platform event. The event kind is the
// subject token following <prefix>.control. A message that cannot be decoded
// still yields an event with Err set, carrying the fields that could be read.
func decode(prefix, subject string, data []byte) (platform.Event, error) {
	name := strings.TrimPrefix(subject, controlPrefix(prefix))
	typ, ok := platform.ParseEventType(name)
	if !ok || name == subject {
		err := fmt.Errorf("%w: %s", ErrUnknownEvent, subject)
		return platform.Event{Type: platform.EventInvalid, Err: err}, err
	}

	evt := platform.Event{Type: typ}
	if len(data) == 0 {
		return evt, nil
	}

	// Unmarshal keeps filling the remaining fields after a type mismatch,
	// so a message id survives a malformed device record.
	var err error
	switch typ {
	case platform.EventReady:
		var body readyBody
		err = json.Unmarshal(data, &body)
		evt.Options, evt.Devices = body.Options, body.Devices
	case platform.EventMessage:
		var body messageBody
		err = json.Unmarshal(data, &body)
		evt.Device, evt.Message, evt.MessageID = body.Device, body.Message, body.MessageID
	case platform.EventAddDevice, platform.EventRemoveDevice:
		var body deviceBody
		err = json.Unmarshal(data, &body)
		evt.Device = body.Device
	}
	if err != nil {
		evt.Err = fmt.Errorf("%w: %s: %w", ErrInvalidBody, subject, err)
		return evt, evt.Err
	}

	return evt, nil
}

// rawJSON keeps valid JSON as is and encodes anything else as a JSON string.
func rawJSON(b []byte) json.RawMessage {
	if len(b) > 0 && json.Valid(b) {
		return b
	}
	s, _ := json.Marshal(string(b))
	return s
}
