// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser defines the interface for protocol packet inspection.
//
// Parsers sit between a transport (the TCP server or the WebSocket bridge)
// and the broker hooks in package handler. The transport calls Parse in a
// loop for each direction of a connection:
//
//	Upstream (client → broker):
//	  1. Read one packet from the client
//	  2. Extract credentials into the handler context
//	  3. Call handler.Auth* and stop on rejection
//	  4. Write the packet to the broker
//
//	Downstream (broker → client):
//	  1. Read one packet from the broker
//	  2. Call handler.AuthForward for deliveries and On* for acknowledgments
//	  3. Write the packet to the client, unless it was dropped
//
// Implementations:
//   - parser/mqtt: MQTT 3.1.1
//   - parser/websocket: MQTT over WebSocket, delegating to parser/mqtt
package parser
