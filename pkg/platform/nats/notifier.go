// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/absmach/dgate/pkg/breaker"
	"github.com/absmach/dgate/pkg/platform"
)

var _ platform.Notifier = (*notifier)(nil)

// publisher is satisfied by *nats.Conn.
type publisher interface {
	Publish(subject string, data []byte) error
}

type notifier struct {
	conn    publisher
	prefix  string
	breaker *breaker.CircuitBreaker
}

// NewNotifier returns a platform.Notifier publishing on conn. Every publish
// goes through cb, so a management plane that stops accepting notifications
// fails fast instead of stalling client sessions.
func NewNotifier(conn publisher, prefix string, cb *breaker.CircuitBreaker) platform.Notifier {
	if cb == nil {
		cb = breaker.New(breaker.Config{Name: "nats"})
	}
	return &notifier{
		conn:    conn,
		prefix:  prefix,
		breaker: cb,
	}
}

func (n *notifier) ProcessData(ctx context.Context, clientID string, payload []byte) error {
	return n.publish(ctx, EventData, dataNotification{ClientID: clientID, Payload: rawJSON(payload)})
}

func (n *notifier) SendMessageToDevice(ctx context.Context, target string, message json.RawMessage) error {
	return n.publish(ctx, EventMessage, messageNotification{Target: target, Message: rawJSON(message)})
}

func (n *notifier) SendMessageToGroup(ctx context.Context, target string, message json.RawMessage) error {
	return n.publish(ctx, EventGroupMessage, messageNotification{Target: target, Message: rawJSON(message)})
}

func (n *notifier) SendMessageResponse(ctx context.Context, messageID, status string) error {
	return n.publish(ctx, EventResponse, responseNotification{MessageID: messageID, Status: status})
}

func (n *notifier) NotifyConnection(ctx context.Context, clientID string) error {
	return n.publish(ctx, EventConnected, clientNotification{ClientID: clientID})
}

func (n *notifier) NotifyDisconnection(ctx context.Context, clientID string) error {
	return n.publish(ctx, EventDisconnected, clientNotification{ClientID: clientID})
}

func (n *notifier) NotifyReady(ctx context.Context) error {
	return n.publish(ctx, EventReady, struct{}{})
}

func (n *notifier) NotifyClose(ctx context.Context) error {
	return n.publish(ctx, EventClosed, struct{}{})
}

func (n *notifier) Log(ctx context.Context, rec platform.Record) error {
	return n.publish(ctx, EventLog, rec)
}

func (n *notifier) HandleException(ctx context.Context, err error) error {
	return n.publish(ctx, EventException, exceptionNotification{Error: err.Error()})
}

func (n *notifier) publish(ctx context.Context, name string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s notification: %w", name, err)
	}

	subject := eventSubject(n.prefix, name)
	return n.breaker.Call(ctx, func(context.Context) error {
		return n.conn.Publish(subject, data)
	})
}
