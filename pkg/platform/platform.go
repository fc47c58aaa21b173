// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package platform defines the boundary between dgate and the device
// management plane: the events dgate consumes and the notifications it emits.
package platform

import (
	"context"
	"encoding/json"

	"github.com/absmach/dgate/pkg/registry"
)

// Options is the runtime configuration carried by the ready event.
type Options struct {
	Port              string `json:"port,omitempty" yaml:"port,omitempty"`
	Username          string `json:"username,omitempty" yaml:"username,omitempty"`
	Password          string `json:"password,omitempty" yaml:"password,omitempty"`
	DataTopic         string `json:"dataTopic,omitempty" yaml:"dataTopic,omitempty"`
	MessageTopic      string `json:"messageTopic,omitempty" yaml:"messageTopic,omitempty"`
	GroupMessageTopic string `json:"groupMessageTopic,omitempty" yaml:"groupMessageTopic,omitempty"`
	SharedTopics      string `json:"sharedTopics,omitempty" yaml:"sharedTopics,omitempty"`
	QoS               *byte  `json:"qos,omitempty" yaml:"qos,omitempty"`
}

// WithDefaults returns o with every unset field taken from def.
func (o Options) WithDefaults(def Options) Options {
	if o.Port == "" {
		o.Port = def.Port
	}
	if o.Username == "" && o.Password == "" {
		o.Username, o.Password = def.Username, def.Password
	}
	if o.DataTopic == "" {
		o.DataTopic = def.DataTopic
	}
	if o.MessageTopic == "" {
		o.MessageTopic = def.MessageTopic
	}
	if o.GroupMessageTopic == "" {
		o.GroupMessageTopic = def.GroupMessageTopic
	}
	if o.SharedTopics == "" {
		o.SharedTopics = def.SharedTopics
	}
	if o.QoS == nil {
		o.QoS = def.QoS
	}
	return o
}

// QoSLevel returns the configured QoS, 0 when unset.
func (o Options) QoSLevel() byte {
	if o.QoS == nil {
		return 0
	}
	return *o.QoS
}

// EventType enumerates the events produced by a Source.
type EventType int

const (
	EventReady EventType = iota
	EventMessage
	EventAddDevice
	EventRemoveDevice
	EventClose

	// EventInvalid carries a control message that names no known event.
	EventInvalid
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventMessage:
		return "message"
	case EventAddDevice:
		return "adddevice"
	case EventRemoveDevice:
		return "removedevice"
	case EventClose:
		return "close"
	case EventInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ParseEventType maps a wire name to its EventType.
func ParseEventType(name string) (EventType, bool) {
	for _, t := range []EventType{EventReady, EventMessage, EventAddDevice, EventRemoveDevice, EventClose} {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

// Event is a single instruction from the management plane.
type Event struct {
	Type EventType

	// Ready
	Options Options
	Devices []registry.Device

	// Message, AddDevice, RemoveDevice
	Device *registry.Device

	// Message
	Message   json.RawMessage
	MessageID string

	// Err is set when the event could not be decoded. The other fields hold
	// whatever the source could recover.
	Err error
}

// Source delivers management plane events. Events must be delivered on the
// returned channel in the order they were issued. The channel is closed when
// the source stops.
type Source interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Record is an audit or diagnostic log entry.
type Record struct {
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Log levels used in records.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Notifier receives the dispatch calls and status reports of the engine.
// Implementations must be safe for concurrent use.
type Notifier interface {
	// ProcessData forwards a telemetry payload to device-data ingestion.
	ProcessData(ctx context.Context, clientID string, payload []byte) error

	// SendMessageToDevice forwards a direct message.
	SendMessageToDevice(ctx context.Context, target string, message json.RawMessage) error

	// SendMessageToGroup forwards a group message.
	SendMessageToGroup(ctx context.Context, target string, message json.RawMessage) error

	// SendMessageResponse reports the delivery status of a platform message.
	SendMessageResponse(ctx context.Context, messageID, status string) error

	NotifyConnection(ctx context.Context, clientID string) error
	NotifyDisconnection(ctx context.Context, clientID string) error
	NotifyReady(ctx context.Context) error
	NotifyClose(ctx context.Context) error

	// Log records an audit or diagnostic entry.
	Log(ctx context.Context, rec Record) error

	// HandleException reports an anomalous condition.
	HandleException(ctx context.Context, err error) error
}
