// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"crypto/x509"
)

// Context carries connection metadata and the credentials extracted from
// packets. It is shared by both stream directions of one connection.
type Context struct {
	// SessionID uniquely identifies the connection.
	SessionID string

	// Username from the MQTT CONNECT packet.
	Username string

	// Password from the MQTT CONNECT packet, raw bytes.
	Password []byte

	// ClientID from the MQTT CONNECT packet.
	ClientID string

	// RemoteAddr is the client's network address.
	RemoteAddr string

	// Protocol is the transport in use (tcp, websocket) until CONNECT sets it to mqtt.
	Protocol string

	// Cert is the client's TLS certificate when mTLS is used.
	Cert *x509.Certificate
}

// Handler defines the broker hooks called by protocol parsers.
//
// Auth* methods are called before a packet is forwarded. An error from
// AuthConnect, AuthPublish or AuthSubscribe rejects the packet and closes the
// connection. An error from AuthForward drops the single packet headed to the
// client and keeps the connection open.
//
// On* methods are notifications called after the packet has been accepted.
// Their errors never affect the packet.
type Handler interface {
	// AuthConnect authenticates a CONNECT packet.
	AuthConnect(ctx context.Context, hctx *Context) error

	// AuthPublish authorizes a client PUBLISH. Topic and payload may be
	// rewritten through the pointers.
	AuthPublish(ctx context.Context, hctx *Context, topic *string, payload *[]byte) error

	// AuthSubscribe authorizes a SUBSCRIBE. The topic list may be filtered
	// through the pointer.
	AuthSubscribe(ctx context.Context, hctx *Context, topics *[]string) error

	// AuthForward authorizes a broker PUBLISH on its way to the client.
	AuthForward(ctx context.Context, hctx *Context, topic string, payload []byte) error

	// OnConnect is called after an accepted CONNECT.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnPublish is called after an accepted PUBLISH. The packet identifier,
	// when the packet carries one, is available through MessageID(ctx).
	OnPublish(ctx context.Context, hctx *Context, topic string, payload []byte) error

	// OnSubscribe is called after an accepted SUBSCRIBE.
	OnSubscribe(ctx context.Context, hctx *Context, topics []string) error

	// OnUnsubscribe is called for every UNSUBSCRIBE.
	OnUnsubscribe(ctx context.Context, hctx *Context, topics []string) error

	// OnDisconnect is called once when the connection ends, gracefully or not.
	OnDisconnect(ctx context.Context, hctx *Context) error
}

type messageIDKey struct{}

// WithMessageID returns a context carrying the MQTT packet identifier.
func WithMessageID(ctx context.Context, id uint16) context.Context {
	return context.WithValue(ctx, messageIDKey{}, id)
}

// MessageID returns the MQTT packet identifier stored in ctx.
func MessageID(ctx context.Context) (uint16, bool) {
	id, ok := ctx.Value(messageIDKey{}).(uint16)
	return id, ok
}

// NoopHandler allows every operation.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) AuthConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) AuthPublish(ctx context.Context, hctx *Context, topic *string, payload *[]byte) error {
	return nil
}

func (h *NoopHandler) AuthSubscribe(ctx context.Context, hctx *Context, topics *[]string) error {
	return nil
}

func (h *NoopHandler) AuthForward(ctx context.Context, hctx *Context, topic string, payload []byte) error {
	return nil
}

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnPublish(ctx context.Context, hctx *Context, topic string, payload []byte) error {
	return nil
}

func (h *NoopHandler) OnSubscribe(ctx context.Context, hctx *Context, topics []string) error {
	return nil
}

func (h *NoopHandler) OnUnsubscribe(ctx context.Context, hctx *Context, topics []string) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}
