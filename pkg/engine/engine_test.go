// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/absmach/dgate/pkg/engine"
	dgerrors "github.com/absmach/dgate/pkg/errors"
	"github.com/absmach/dgate/pkg/handler"
	"github.com/absmach/dgate/pkg/platform"
	"github.com/absmach/dgate/pkg/platform/mocks"
	"github.com/absmach/dgate/pkg/registry"
	"github.com/absmach/dgate/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var defaults = platform.Options{
	Port:              "1883",
	DataTopic:         "data",
	MessageTopic:      "message",
	GroupMessageTopic: "groupmessage",
}

type source struct {
	events chan platform.Event
}

func (s *source) Subscribe(context.Context) (<-chan platform.Event, error) {
	return s.events, nil
}

type listener struct {
	err      error
	onListen func(net.Addr)
	stopped  atomic.Bool
}

func (l *listener) Listen(ctx context.Context) error {
	if l.err != nil {
		return l.err
	}
	l.onListen(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1883})
	<-ctx.Done()
	l.stopped.Store(true)
	return nil
}

type harness struct {
	engine    *engine.Engine
	notifier  *mocks.Notifier
	publisher *mocks.Publisher
	events    chan platform.Event
	listener  *listener
	factory   atomic.Int32
	cancel    context.CancelFunc
	done      chan error
}

func newHarness(t *testing.T, listenErr error) *harness {
	t.Helper()

	h := &harness{
		notifier:  mocks.NewNotifier(),
		publisher: mocks.NewPublisher(),
		events:    make(chan platform.Event, 16),
		listener:  &listener{err: listenErr},
		done:      make(chan error, 1),
	}

	cfg := engine.Config{
		Defaults: defaults,
		Listeners: func(_ platform.Options, _ handler.Handler, onListen func(net.Addr)) []engine.Listener {
			h.factory.Add(1)
			h.listener.onListen = onListen
			return []engine.Listener{h.listener}
		},
	}
	h.engine = engine.New(cfg, h.notifier, h.publisher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- h.engine.Run(ctx, &source{events: h.events})
	}()
	t.Cleanup(cancel)

	return h
}

func (h *harness) ready(t *testing.T, opts platform.Options, devices ...registry.Device) {
	t.Helper()
	h.events <- platform.Event{Type: platform.EventReady, Options: opts, Devices: devices}
	require.Eventually(t, func() bool {
		return h.engine.HealthCheck(context.Background()) == nil
	}, waitFor, tick)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitFor):
		t.Fatal("engine did not stop")
		return nil
	}
}

func (h *harness) calls(method string) func() bool {
	return func() bool { return len(h.notifier.Find(method)) > 0 }
}

func qos(b byte) *byte { return &b }

func TestReady(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.engine.HealthCheck(context.Background()), dgerrors.ErrNotReady)

	h.ready(t, platform.Options{}, registry.Device{ID: "dev1"}, registry.Device{})

	assert.Len(t, h.notifier.Find("NotifyReady"), 1)
	assert.True(t, h.engine.Registry().IsAuthorized("dev1"))
	assert.Equal(t, 1, h.engine.Registry().Len())

	h.events <- platform.Event{Type: platform.EventReady, Devices: []registry.Device{{ID: "dev2"}}}
	require.Eventually(t, func() bool { return h.engine.Registry().IsAuthorized("dev2") }, waitFor, tick)

	assert.False(t, h.engine.Registry().IsAuthorized("dev1"))
	assert.Equal(t, int32(1), h.factory.Load())
	assert.Len(t, h.notifier.Find("NotifyReady"), 1)
}

func TestReadyInvalidQoS(t *testing.T) {
	h := newHarness(t, nil)

	h.events <- platform.Event{Type: platform.EventReady, Options: platform.Options{QoS: qos(3)}}
	require.Eventually(t, h.calls("HandleException"), waitFor, tick)

	assert.Equal(t, int32(0), h.factory.Load())
	assert.Error(t, h.engine.HealthCheck(context.Background()))
}

func TestClose(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t, platform.Options{})

	h.events <- platform.Event{Type: platform.EventClose}
	require.NoError(t, h.wait(t))

	assert.True(t, h.listener.stopped.Load())
	calls := h.notifier.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "NotifyClose", calls[len(calls)-1].Method)
	assert.ErrorIs(t, h.engine.HealthCheck(context.Background()), dgerrors.ErrNotReady)
}

func TestCloseBeforeReady(t *testing.T) {
	h := newHarness(t, nil)

	h.cancel()
	require.NoError(t, h.wait(t))

	assert.Len(t, h.notifier.Find("NotifyClose"), 1)
	assert.Equal(t, int32(0), h.factory.Load())
}

func TestSourceClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t, platform.Options{})

	close(h.events)
	require.NoError(t, h.wait(t))
	assert.Len(t, h.notifier.Find("NotifyClose"), 1)
}

func TestFatalListenerError(t *testing.T) {
	inUse := fmt.Errorf("failed to listen on :1883: %w", &net.OpError{
		Op:  "listen",
		Net: "tcp",
		Err: os.NewSyscallError("bind", syscall.EADDRINUSE),
	})
	h := newHarness(t, inUse)

	h.events <- platform.Event{Type: platform.EventReady}
	err := h.wait(t)

	assert.ErrorIs(t, err, syscall.EADDRINUSE)
	assert.Len(t, h.notifier.Find("HandleException"), 1)
	assert.Len(t, h.notifier.Find("NotifyClose"), 1)
	assert.Empty(t, h.notifier.Find("NotifyReady"))
}

func TestDeviceEvents(t *testing.T) {
	h := newHarness(t, nil)
	reg := h.engine.Registry()

	h.events <- platform.Event{Type: platform.EventAddDevice, Device: &registry.Device{ID: "dev1"}}
	require.Eventually(t, func() bool { return reg.IsAuthorized("dev1") }, waitFor, tick)

	h.events <- platform.Event{Type: platform.EventAddDevice, Device: &registry.Device{}}
	h.events <- platform.Event{Type: platform.EventRemoveDevice}
	require.Eventually(t, func() bool { return len(h.notifier.Find("HandleException")) == 2 }, waitFor, tick)
	assert.Equal(t, 1, reg.Len())

	for _, c := range h.notifier.Find("HandleException") {
		assert.ErrorIs(t, c.Err, dgerrors.ErrMalformedDevice)
	}

	h.events <- platform.Event{Type: platform.EventRemoveDevice, Device: &registry.Device{ID: "unknown"}}
	h.events <- platform.Event{Type: platform.EventRemoveDevice, Device: &registry.Device{ID: "dev1"}}
	require.Eventually(t, func() bool { return reg.Len() == 0 }, waitFor, tick)
	assert.Len(t, h.notifier.Find("HandleException"), 2)
}

func TestMessage(t *testing.T) {
	cases := []struct {
		desc    string
		message json.RawMessage
		payload string
	}{
		{desc: "json string", message: json.RawMessage(`"turn on"`), payload: "turn on"},
		{desc: "json object", message: json.RawMessage(`{"cmd":"on"}`), payload: `{"cmd":"on"}`},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			h := newHarness(t, nil)
			h.ready(t, platform.Options{QoS: qos(1)})

			h.events <- platform.Event{
				Type:      platform.EventMessage,
				Device:    &registry.Device{ID: "dev1"},
				Message:   tc.message,
				MessageID: "m-1",
			}
			require.Eventually(t, h.calls("SendMessageResponse"), waitFor, tick)

			pubs := h.publisher.Publications()
			require.Len(t, pubs, 1)
			assert.Equal(t, "dev1", pubs[0].Topic)
			assert.Equal(t, tc.payload, string(pubs[0].Payload))
			assert.Equal(t, byte(1), pubs[0].QoS)
			assert.False(t, pubs[0].Retain)

			resp := h.notifier.Find("SendMessageResponse")
			assert.Equal(t, []string{"m-1", relay.StatusAcknowledged}, resp[0].Args)
		})
	}
}

func TestMessageRejected(t *testing.T) {
	cases := []struct {
		desc   string
		ready  bool
		pubErr error
		event  platform.Event
		err    error
	}{
		{
			desc:  "before ready",
			event: platform.Event{Type: platform.EventMessage, Device: &registry.Device{ID: "dev1"}, Message: json.RawMessage(`"x"`), MessageID: "m-1"},
			err:   dgerrors.ErrNotReady,
		},
		{
			desc:  "missing device",
			ready: true,
			event: platform.Event{Type: platform.EventMessage, Message: json.RawMessage(`"x"`), MessageID: "m-1"},
			err:   dgerrors.ErrMalformedDevice,
		},
		{
			desc:  "empty message",
			ready: true,
			event: platform.Event{Type: platform.EventMessage, Device: &registry.Device{ID: "dev1"}, Message: json.RawMessage(`null`), MessageID: "m-1"},
			err:   dgerrors.ErrEmptyPayload,
		},
		{
			desc:   "publish failure",
			ready:  true,
			pubErr: errors.New("broker unavailable"),
			event:  platform.Event{Type: platform.EventMessage, Device: &registry.Device{ID: "dev1"}, Message: json.RawMessage(`"x"`), MessageID: "m-1"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			h := newHarness(t, nil)
			h.publisher.Err = tc.pubErr
			if tc.ready {
				h.ready(t, platform.Options{})
			}

			h.events <- tc.event
			require.Eventually(t, h.calls("SendMessageResponse"), waitFor, tick)
			require.Eventually(t, h.calls("HandleException"), waitFor, tick)

			resp := h.notifier.Find("SendMessageResponse")
			assert.Equal(t, []string{"m-1", relay.StatusNotAcknowledged}, resp[0].Args)

			exc := h.notifier.Find("HandleException")
			if tc.err != nil {
				assert.ErrorIs(t, exc[0].Err, tc.err)
			}
			if tc.pubErr != nil {
				assert.ErrorIs(t, exc[0].Err, tc.pubErr)
			}
			assert.Empty(t, h.publisher.Publications())
		})
	}
}

func TestInvalidEvents(t *testing.T) {
	decodeErr := errors.New("invalid control message body")

	cases := []struct {
		desc     string
		event    platform.Event
		err      error
		response []string
	}{
		{
			desc:  "add device of the wrong type",
			event: platform.Event{Type: platform.EventAddDevice, Device: &registry.Device{}, Err: decodeErr},
			err:   dgerrors.ErrMalformedDevice,
		},
		{
			desc:  "remove device not decoded",
			event: platform.Event{Type: platform.EventRemoveDevice, Err: decodeErr},
			err:   dgerrors.ErrMalformedDevice,
		},
		{
			desc:     "message with recovered id",
			event:    platform.Event{Type: platform.EventMessage, MessageID: "m-7", Err: decodeErr},
			err:      decodeErr,
			response: []string{"m-7", relay.StatusNotAcknowledged},
		},
		{
			desc:  "message without id",
			event: platform.Event{Type: platform.EventMessage, Err: decodeErr},
			err:   decodeErr,
		},
		{
			desc:  "unknown event",
			event: platform.Event{Type: platform.EventInvalid, Err: decodeErr},
			err:   decodeErr,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			h := newHarness(t, nil)
			h.ready(t, platform.Options{}, registry.Device{ID: "dev1"})

			h.events <- tc.event
			require.Eventually(t, h.calls("HandleException"), waitFor, tick)

			exc := h.notifier.Find("HandleException")
			require.Len(t, exc, 1)
			assert.ErrorIs(t, exc[0].Err, tc.err)
			assert.ErrorIs(t, exc[0].Err, decodeErr)

			resp := h.notifier.Find("SendMessageResponse")
			if tc.response != nil {
				require.Len(t, resp, 1)
				assert.Equal(t, tc.response, resp[0].Args)
			} else {
				assert.Empty(t, resp)
			}
			assert.Equal(t, 1, h.engine.Registry().Len())
			assert.Empty(t, h.publisher.Publications())
		})
	}
}
