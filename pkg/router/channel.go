// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import "github.com/absmach/dgate/pkg/access"

// Channel is the semantic channel of a published message.
type Channel int

const (
	Unrecognized Channel = iota
	Telemetry
	DirectMessage
	GroupMessage
)

// String returns the channel name used in logs and metrics.
func (c Channel) String() string {
	switch c {
	case Telemetry:
		return "telemetry"
	case DirectMessage:
		return "message"
	case GroupMessage:
		return "groupmessage"
	default:
		return "unrecognized"
	}
}

// Classify maps a topic to its channel by exact match against the system topics.
func Classify(topics access.Topics, topic string) Channel {
	switch topic {
	case "":
		return Unrecognized
	case topics.Data:
		return Telemetry
	case topics.Message:
		return DirectMessage
	case topics.GroupMessage:
		return GroupMessage
	default:
		return Unrecognized
	}
}

// ack is the acknowledgment text published back to the sender.
func (c Channel) ack() string {
	switch c {
	case Telemetry:
		return AckData
	case DirectMessage:
		return AckMessage
	case GroupMessage:
		return AckGroupMessage
	default:
		return ""
	}
}

// shape describes the payload a channel expects.
func (c Channel) shape() string {
	switch c {
	case Telemetry:
		return "a non-empty JSON document"
	case DirectMessage:
		return `a JSON object {"target": "<device id>", "message": <value>} with non-empty "target" and "message" fields`
	case GroupMessage:
		return `a JSON object {"target": "<group id>", "message": <value>} with non-empty "target" and "message" fields`
	default:
		return "any payload"
	}
}
