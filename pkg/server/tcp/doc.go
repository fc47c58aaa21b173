// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the TCP front of the authorizing proxy.
//
//	┌─────────┐         ┌─────────┐         ┌─────────┐
//	│ Device  │ ←─TCP─→ │  Server │ ←─TCP─→ │ Broker  │
//	└─────────┘         └─────────┘         └─────────┘
//	                         ↓
//	                    ┌─────────┐
//	                    │ Parser  │ → Handler
//	                    └─────────┘
//
// # Connection Flow
//
//  1. The server accepts a client connection
//  2. It dials the backend broker
//  3. Two goroutines call parser.Parse, one per direction
//  4. When either direction ends both connections are closed
//  5. handler.OnDisconnect is called once
//
// # Listening
//
// Config.OnListen is called with the bound address once the listener is up.
// A bind failure is returned from Listen wrapped with %w.
//
// # Graceful Shutdown
//
// Cancelling the Listen context closes the listener and waits up to
// ShutdownTimeout for active connections to finish. Remaining connections are
// then closed and Listen returns ErrShutdownTimeout.
//
// # TLS
//
// Setting Config.TLSConfig terminates TLS on the listener. A client
// certificate, when presented, is stored in handler.Context.Cert.
package tcp
