// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy wires the transport servers, the MQTT parser and a
// handler.Handler together.
//
//	MQTTProxy:      tcp.Server + mqtt.Parser
//	WebSocketProxy: http.Server + websocket.Parser + mqtt.Parser
//
// Both coordinators bind their listener inside Listen, report the bound
// address through OnListen and block until the context is cancelled and
// active sessions have drained or ShutdownTimeout has passed.
//
// Example:
//
//	p := proxy.NewMQTT(proxy.MQTTConfig{
//		Port:       "1883",
//		TargetHost: "broker",
//		TargetPort: "1884",
//	}, h)
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(func() error { return p.Listen(ctx) })
package proxy
