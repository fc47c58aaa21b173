// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package websocket carries MQTT over WebSocket.
//
// Parser is an http.Handler. For each request it dials the backend broker's
// WebSocket endpoint, upgrades the client connection with the "mqtt"
// subprotocol, wraps both sides in Conn and runs the MQTT parser over them in
// both directions. The first direction to end closes both sides and the
// handler's OnDisconnect is called once.
//
// Conn adapts a gorilla/websocket connection to net.Conn: Read walks the
// binary frames as one byte stream and Write sends one binary frame per call.
package websocket
