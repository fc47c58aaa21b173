// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"log/slog"

	"github.com/absmach/dgate/pkg/access"
	dgerrors "github.com/absmach/dgate/pkg/errors"
	"github.com/absmach/dgate/pkg/handler"
	"github.com/absmach/dgate/pkg/platform"
	"github.com/absmach/dgate/pkg/router"
)

// AuthConnect checks the client credentials.
func (e *Engine) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	if e.closing.Load() {
		return dgerrors.ErrClosing
	}
	st := e.current()
	if st == nil {
		return dgerrors.ErrNotReady
	}

	ok := st.auth.Authenticate(hctx.Username, hctx.Password)
	e.metrics.ObserveAuth(string(access.Connect), ok)
	if !ok {
		e.deny(ctx, access.Connect, hctx, "")
		return dgerrors.New(string(access.Connect), "", hctx.ClientID, dgerrors.ErrUnauthorized)
	}

	return nil
}

// AuthPublish authorizes a client publish.
func (e *Engine) AuthPublish(ctx context.Context, hctx *handler.Context, topic *string, _ *[]byte) error {
	st := e.current()
	if st == nil {
		return dgerrors.ErrNotReady
	}

	ok := st.control.AuthorizePublish(hctx.ClientID, *topic)
	e.metrics.ObserveAuth(string(access.Publish), ok)
	if !ok {
		e.deny(ctx, access.Publish, hctx, *topic)
		return dgerrors.New(string(access.Publish), "", hctx.ClientID, dgerrors.ErrUnauthorized)
	}

	return nil
}

// AuthSubscribe authorizes every topic of a subscription. One denied topic
// rejects the subscription.
func (e *Engine) AuthSubscribe(ctx context.Context, hctx *handler.Context, topics *[]string) error {
	st := e.current()
	if st == nil {
		return dgerrors.ErrNotReady
	}

	for _, topic := range *topics {
		ok := st.control.AuthorizeSubscribe(hctx.ClientID, topic)
		e.metrics.ObserveAuth(string(access.Subscribe), ok)
		if !ok {
			e.deny(ctx, access.Subscribe, hctx, topic)
			return dgerrors.New(string(access.Subscribe), "", hctx.ClientID, dgerrors.ErrUnauthorized)
		}
	}

	return nil
}

// AuthForward authorizes delivery of a broker publish to the client.
func (e *Engine) AuthForward(ctx context.Context, hctx *handler.Context, topic string, _ []byte) error {
	st := e.current()
	if st == nil {
		return dgerrors.ErrNotReady
	}

	ok := st.control.AuthorizeForward(hctx.ClientID)
	e.metrics.ObserveAuth(string(access.Forward), ok)
	if !ok {
		e.deny(ctx, access.Forward, hctx, topic)
		return dgerrors.New(string(access.Forward), "", hctx.ClientID, dgerrors.ErrUnauthorized)
	}

	return nil
}

// OnConnect reports an accepted connection.
func (e *Engine) OnConnect(ctx context.Context, hctx *handler.Context) error {
	if _, loaded := e.sessions.LoadOrStore(hctx.SessionID, hctx.Protocol); loaded {
		return nil
	}
	e.metrics.Connected(hctx.Protocol)
	e.relay.ClientConnected(ctx, hctx.ClientID)

	return nil
}

// OnPublish routes an authorized publish.
func (e *Engine) OnPublish(ctx context.Context, hctx *handler.Context, topic string, payload []byte) error {
	if e.closing.Load() {
		return dgerrors.ErrClosing
	}
	st := e.current()
	if st == nil {
		return dgerrors.ErrNotReady
	}

	env := router.Envelope{
		ClientID: hctx.ClientID,
		Topic:    topic,
		Payload:  payload,
	}
	if id, ok := handler.MessageID(ctx); ok {
		env.MessageID = id
	}

	ch, err := st.router.Route(ctx, env)
	if ch != router.Unrecognized {
		e.metrics.ObserveRoute(ch.String(), err)
	}

	return err
}

func (e *Engine) OnSubscribe(ctx context.Context, hctx *handler.Context, topics []string) error {
	e.logger.Debug("client subscribed", slog.String("client_id", hctx.ClientID), slog.Any("topics", topics))
	return nil
}

func (e *Engine) OnUnsubscribe(ctx context.Context, hctx *handler.Context, topics []string) error {
	e.logger.Debug("client unsubscribed", slog.String("client_id", hctx.ClientID), slog.Any("topics", topics))
	return nil
}

// OnDisconnect reports the end of a connection accepted by the broker.
func (e *Engine) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	protocol, ok := e.sessions.LoadAndDelete(hctx.SessionID)
	if !ok {
		return nil
	}
	e.metrics.Disconnected(protocol.(string))
	e.relay.ClientDisconnected(ctx, hctx.ClientID)

	return nil
}

func (e *Engine) deny(ctx context.Context, op access.Operation, hctx *handler.Context, topic string) {
	fields := map[string]string{
		"operation": string(op),
		"client_id": hctx.ClientID,
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if hctx.RemoteAddr != "" {
		fields["remote_addr"] = hctx.RemoteAddr
	}

	rec := platform.Record{
		Level:   platform.LevelWarn,
		Message: "unauthorized " + string(op),
		Fields:  fields,
	}
	if err := e.notifier.Log(ctx, rec); err != nil {
		e.logger.Warn("failed to send audit record", slog.String("error", err.Error()))
	}
}
