// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt implements the MQTT 3.1.1 packet parser.
//
// Packets are decoded and re-encoded with the eclipse/paho.mqtt.golang
// packets codec.
//
// # Packet Handling
//
// Upstream (client → broker):
//   - CONNECT: extracts client id, username and password, calls AuthConnect
//   - PUBLISH: calls AuthPublish then OnPublish; QoS 1 and 2 packet ids are
//     stored in the context with handler.WithMessageID
//   - SUBSCRIBE: calls AuthSubscribe then OnSubscribe
//   - UNSUBSCRIBE: calls OnUnsubscribe
//   - everything else is forwarded untouched
//
// Downstream (broker → client):
//   - CONNACK: calls OnConnect when the broker accepted the session
//   - PUBLISH: calls AuthForward; a rejected packet is dropped while the
//     connection stays open
//   - everything else is forwarded untouched
//
// # Rejection
//
// An error from AuthConnect, AuthPublish or AuthSubscribe is returned from
// Parse, which makes the server close both sides of the connection.
//
// # Protocol Field
//
// The parser sets hctx.Protocol = "mqtt" on CONNECT unless the server has
// already named the transport.
package mqtt
