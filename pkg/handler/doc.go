// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler defines the broker hooks that link the MQTT parser to the
// authorization engine.
//
// # Data Flow
//
//	Client → Parser → Handler.Auth* → Backend broker
//	Backend broker → Parser → Handler.AuthForward → Client
//
// # Hooks
//
// Authorization hooks run before a packet is forwarded:
//   - AuthConnect: username and password check on CONNECT
//   - AuthPublish: topic check on client PUBLISH
//   - AuthSubscribe: topic check on SUBSCRIBE
//   - AuthForward: recipient check on broker PUBLISH toward the client
//
// Notification hooks run after a packet is accepted:
//   - OnConnect, OnPublish, OnSubscribe, OnUnsubscribe, OnDisconnect
//
// # Context
//
// Context holds per-connection metadata. ClientID, Username and Password are
// filled from the CONNECT packet and stay set for the life of the connection,
// so later hooks see the identity that was authenticated.
//
// The packet identifier of a PUBLISH travels in the context.Context passed to
// OnPublish:
//
//	if id, ok := handler.MessageID(ctx); ok {
//		// QoS 1 or 2 publish
//	}
package handler
