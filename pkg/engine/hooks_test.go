// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package engine_test

import (
	"context"
	"testing"

	"github.com/absmach/dgate/pkg/engine"
	dgerrors "github.com/absmach/dgate/pkg/errors"
	"github.com/absmach/dgate/pkg/handler"
	"github.com/absmach/dgate/pkg/platform"
	"github.com/absmach/dgate/pkg/platform/mocks"
	"github.com/absmach/dgate/pkg/registry"
	"github.com/absmach/dgate/pkg/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configured(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, nil)
	h.ready(t, platform.Options{
		Username:     "admin",
		Password:     "secret",
		SharedTopics: "alerts, status",
		QoS:          qos(1),
	}, registry.Device{ID: "dev1"})
	return h
}

func client(id string) *handler.Context {
	return &handler.Context{SessionID: "s-" + id, ClientID: id, Protocol: "tcp", RemoteAddr: "10.0.0.1:5000"}
}

func TestHooksBeforeReady(t *testing.T) {
	e := engine.New(engine.Config{}, mocks.NewNotifier(), mocks.NewPublisher(), nil)
	ctx := context.Background()
	topic := "data"

	assert.ErrorIs(t, e.AuthConnect(ctx, client("dev1")), dgerrors.ErrNotReady)
	assert.ErrorIs(t, e.AuthPublish(ctx, client("dev1"), &topic, nil), dgerrors.ErrNotReady)
	assert.ErrorIs(t, e.AuthSubscribe(ctx, client("dev1"), &[]string{topic}), dgerrors.ErrNotReady)
	assert.ErrorIs(t, e.AuthForward(ctx, client("dev1"), topic, nil), dgerrors.ErrNotReady)
	assert.ErrorIs(t, e.OnPublish(ctx, client("dev1"), topic, []byte(`{"a":1}`)), dgerrors.ErrNotReady)
}

func TestAuthConnect(t *testing.T) {
	h := configured(t)
	ctx := context.Background()

	cases := []struct {
		desc     string
		username string
		password string
		err      error
	}{
		{desc: "valid credentials", username: "admin", password: "secret"},
		{desc: "wrong password", username: "admin", password: "nope", err: dgerrors.ErrUnauthorized},
		{desc: "missing credentials", err: dgerrors.ErrUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			h.notifier.Reset()
			hctx := client("dev9")
			hctx.Username, hctx.Password = tc.username, []byte(tc.password)

			err := h.engine.AuthConnect(ctx, hctx)
			if tc.err == nil {
				assert.NoError(t, err)
				assert.Empty(t, h.notifier.Find("Log"))
				return
			}

			assert.ErrorIs(t, err, tc.err)
			logs := h.notifier.Find("Log")
			require.Len(t, logs, 1)
			assert.Equal(t, platform.LevelWarn, logs[0].Record.Level)
			assert.Equal(t, "connect", logs[0].Record.Fields["operation"])
			assert.Equal(t, "dev9", logs[0].Record.Fields["client_id"])
		})
	}
}

func TestAuthConnectWithoutCredentials(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t, platform.Options{Username: "admin"})

	assert.NoError(t, h.engine.AuthConnect(context.Background(), client("dev1")))
}

func TestAuthPublishSubscribe(t *testing.T) {
	h := configured(t)
	ctx := context.Background()

	cases := []struct {
		desc     string
		clientID string
		topic    string
		allowed  bool
	}{
		{desc: "registered device any topic", clientID: "dev1", topic: "anything", allowed: true},
		{desc: "unregistered own topic", clientID: "dev2", topic: "dev2", allowed: true},
		{desc: "unregistered system topic", clientID: "dev2", topic: "data", allowed: true},
		{desc: "unregistered shared topic", clientID: "dev2", topic: "status", allowed: true},
		{desc: "unregistered other device topic", clientID: "dev2", topic: "dev1", allowed: false},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			h.notifier.Reset()
			topic := tc.topic

			pubErr := h.engine.AuthPublish(ctx, client(tc.clientID), &topic, nil)
			subErr := h.engine.AuthSubscribe(ctx, client(tc.clientID), &[]string{topic})

			if tc.allowed {
				assert.NoError(t, pubErr)
				assert.NoError(t, subErr)
				assert.Empty(t, h.notifier.Find("Log"))
				return
			}

			assert.ErrorIs(t, pubErr, dgerrors.ErrUnauthorized)
			assert.ErrorIs(t, subErr, dgerrors.ErrUnauthorized)
			logs := h.notifier.Find("Log")
			require.Len(t, logs, 2)
			assert.Equal(t, "publish", logs[0].Record.Fields["operation"])
			assert.Equal(t, "subscribe", logs[1].Record.Fields["operation"])
			assert.Equal(t, tc.topic, logs[1].Record.Fields["topic"])
		})
	}
}

func TestAuthSubscribeOneDeniedTopic(t *testing.T) {
	h := configured(t)

	err := h.engine.AuthSubscribe(context.Background(), client("dev2"), &[]string{"dev2", "alerts", "dev1"})
	assert.ErrorIs(t, err, dgerrors.ErrUnauthorized)

	logs := h.notifier.Find("Log")
	require.Len(t, logs, 1)
	assert.Equal(t, "dev1", logs[0].Record.Fields["topic"])
}

func TestAuthForward(t *testing.T) {
	h := configured(t)
	ctx := context.Background()

	assert.NoError(t, h.engine.AuthForward(ctx, client("dev1"), "dev1", []byte("x")))
	assert.ErrorIs(t, h.engine.AuthForward(ctx, client("dev2"), "dev2", []byte("x")), dgerrors.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.AuthForward(ctx, client("dev2"), "data", []byte("x")), dgerrors.ErrUnauthorized)

	h.events <- platform.Event{Type: platform.EventAddDevice, Device: &registry.Device{ID: "dev2"}}
	require.Eventually(t, func() bool {
		return h.engine.AuthForward(ctx, client("dev2"), "dev2", nil) == nil
	}, waitFor, tick)
}

func TestSessionEvents(t *testing.T) {
	h := configured(t)
	ctx := context.Background()
	hctx := client("dev1")

	require.NoError(t, h.engine.OnDisconnect(ctx, client("never")))
	assert.Empty(t, h.notifier.Find("NotifyDisconnection"))

	require.NoError(t, h.engine.OnConnect(ctx, hctx))
	require.NoError(t, h.engine.OnConnect(ctx, hctx))
	require.NoError(t, h.engine.OnDisconnect(ctx, hctx))
	require.NoError(t, h.engine.OnDisconnect(ctx, hctx))

	conn := h.notifier.Find("NotifyConnection")
	require.Len(t, conn, 1)
	assert.Equal(t, []string{"dev1"}, conn[0].Args)

	disc := h.notifier.Find("NotifyDisconnection")
	require.Len(t, disc, 1)
	assert.Equal(t, []string{"dev1"}, disc[0].Args)
}

func TestOnPublish(t *testing.T) {
	h := configured(t)
	ctx := handler.WithMessageID(context.Background(), 7)

	require.NoError(t, h.engine.OnPublish(ctx, client("dev1"), "data", []byte(`{"temp":21}`)))

	data := h.notifier.Find("ProcessData")
	require.Len(t, data, 1)
	assert.Equal(t, []string{"dev1", `{"temp":21}`}, data[0].Args)

	pubs := h.publisher.Publications()
	require.Len(t, pubs, 1)
	assert.Equal(t, "dev1", pubs[0].Topic)
	assert.Equal(t, router.AckData, string(pubs[0].Payload))
	assert.Equal(t, byte(1), pubs[0].QoS)

	logs := h.notifier.Find("Log")
	require.Len(t, logs, 1)
	assert.Equal(t, "7", logs[0].Record.Fields["message_id"])

	err := h.engine.OnPublish(ctx, client("dev1"), "message", []byte(`{"target":"dev2"}`))
	assert.ErrorIs(t, err, dgerrors.ErrMissingFields)
	var rerr *dgerrors.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, uint16(7), rerr.MessageID)

	assert.NoError(t, h.engine.OnPublish(ctx, client("dev1"), "dev1/status", []byte(`whatever`)))
	assert.Len(t, h.publisher.Publications(), 1)
}

func TestOnPublishWhileClosing(t *testing.T) {
	h := configured(t)

	h.events <- platform.Event{Type: platform.EventClose}
	require.NoError(t, h.wait(t))

	err := h.engine.OnPublish(context.Background(), client("dev1"), "data", []byte(`{"temp":21}`))
	assert.ErrorIs(t, err, dgerrors.ErrClosing)
	assert.ErrorIs(t, h.engine.AuthConnect(context.Background(), client("dev1")), dgerrors.ErrClosing)
	assert.Empty(t, h.notifier.Find("ProcessData"))
}
