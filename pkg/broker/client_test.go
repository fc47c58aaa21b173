// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completed(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pending() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool   { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type publish struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePaho struct {
	mu           sync.Mutex
	token        pahomqtt.Token
	open         bool
	published    []publish
	disconnected int
}

func (f *fakePaho) Connect() pahomqtt.Token { return completed(nil) }

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publish{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return f.token
}

func (f *fakePaho) IsConnectionOpen() bool { return f.open }

func (f *fakePaho) Disconnect(quiesce uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
}

func newTestClient(f *fakePaho) *Client {
	cfg := Config{PublishTimeout: 200 * time.Millisecond}.withDefaults()
	return &Client{client: f, cfg: cfg, logger: cfg.Logger}
}

func TestPublish(t *testing.T) {
	f := &fakePaho{token: completed(nil)}
	c := newTestClient(f)

	err := c.Publish(context.Background(), "dev1", []byte("Data Received"), 1, false)
	require.NoError(t, err)

	require.Len(t, f.published, 1)
	assert.Equal(t, publish{topic: "dev1", qos: 1, retained: false, payload: []byte("Data Received")}, f.published[0])
}

func TestPublishErrors(t *testing.T) {
	cause := errors.New("connection lost")

	cases := []struct {
		desc  string
		token pahomqtt.Token
		qos   byte
		ctx   func() (context.Context, context.CancelFunc)
		err   error
	}{
		{
			desc:  "token error",
			token: completed(cause),
			ctx:   func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			err:   cause,
		},
		{
			desc:  "timeout",
			token: pending(),
			ctx:   func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			err:   ErrPublishTimeout,
		},
		{
			desc:  "cancelled",
			token: pending(),
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			err: context.Canceled,
		},
		{
			desc:  "invalid qos",
			token: completed(nil),
			qos:   3,
			ctx:   func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			err:   ErrInvalidQoS,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			c := newTestClient(&fakePaho{token: tc.token})
			ctx, cancel := tc.ctx()
			defer cancel()

			err := c.Publish(ctx, "dev1", []byte("x"), tc.qos, false)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	f := &fakePaho{open: true}
	c := newTestClient(f)
	assert.NoError(t, c.HealthCheck(context.Background()))

	f.open = false
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.HealthCheck(ctx), context.Canceled)
}

func TestClose(t *testing.T) {
	f := &fakePaho{}
	c := newTestClient(f)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, f.disconnected)
}

func TestBuildClientOptions(t *testing.T) {
	cfg := Config{
		URL:      "ssl://broker:8883",
		ClientID: "dgate",
		Username: "svc",
		Password: "secret",
	}.withDefaults()

	opts := buildClientOptions(cfg)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:8883", opts.Servers[0].Host)
	assert.Equal(t, "dgate", opts.ClientID)
	assert.Equal(t, "svc", opts.Username)
	assert.True(t, opts.CleanSession)
	assert.True(t, opts.AutoReconnect)
	assert.NotNil(t, opts.TLSConfig)
	assert.Equal(t, defaultKeepAlive/time.Second, time.Duration(opts.KeepAlive))

	assert.False(t, secure("tcp://localhost:1884"))
	assert.True(t, secure("wss://broker/mqtt"))
}
