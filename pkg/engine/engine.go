// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package engine ties the device registry, topic access control and message
// router to the broker proxies and the management plane. Platform events are
// consumed by a single loop, so registry mutations are applied in order.
package engine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/dgate/pkg/access"
	dgerrors "github.com/absmach/dgate/pkg/errors"
	"github.com/absmach/dgate/pkg/handler"
	"github.com/absmach/dgate/pkg/metrics"
	"github.com/absmach/dgate/pkg/platform"
	"github.com/absmach/dgate/pkg/proxy"
	"github.com/absmach/dgate/pkg/registry"
	"github.com/absmach/dgate/pkg/relay"
	"github.com/absmach/dgate/pkg/router"
	"github.com/prometheus/client_golang/prometheus"
)

const deliveryQueueSize = 256

// Listener serves broker clients until ctx is done.
type Listener interface {
	Listen(ctx context.Context) error
}

// ListenerFactory builds the listeners started on the first ready event.
// onListen must be called by the listener whose bind signals readiness.
type ListenerFactory func(opts platform.Options, h handler.Handler, onListen func(net.Addr)) []Listener

// Config holds the engine configuration.
type Config struct {
	// Defaults fill the options missing from a ready event.
	Defaults platform.Options

	Host            string
	TargetHost      string
	TargetPort      string
	WSPort          string
	WSPath          string
	TargetWSURL     string
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration

	// Listeners overrides the MQTT and WebSocket proxies.
	Listeners ListenerFactory

	Logger *slog.Logger
}

// state is derived from a ready event and replaced as a whole.
type state struct {
	control *access.Control
	auth    access.Authenticator
	router  *router.Router
	qos     byte
}

type delivery struct {
	ctx       context.Context
	topic     string
	payload   []byte
	qos       byte
	messageID string
}

// Engine is the device authorization and routing engine. It implements
// handler.Handler for the broker proxies.
type Engine struct {
	cfg       Config
	notifier  platform.Notifier
	publisher router.Publisher
	metrics   *metrics.Metrics
	relay     *relay.Relay
	registry  *registry.Registry
	logger    *slog.Logger

	mu    sync.RWMutex
	state *state

	ready    atomic.Bool
	closing  atomic.Bool
	sessions sync.Map

	// Owned by the Run loop.
	started    bool
	stop       context.CancelFunc
	listenErrs chan error
	running    int

	deliveries chan delivery
	delivered  chan struct{}
}

var _ handler.Handler = (*Engine)(nil)

// New creates an Engine. The publisher is used for acknowledgments and
// platform messages. A nil m registers metrics with a private registry.
func New(cfg Config, n platform.Notifier, pub router.Publisher, m *metrics.Metrics) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if m == nil {
		m = metrics.New("", prometheus.NewRegistry())
	}

	e := &Engine{
		cfg:       cfg,
		notifier:  n,
		publisher: pub,
		metrics:   m,
		relay:     relay.New(n, cfg.Logger),
		registry:  registry.New(),
		logger:    cfg.Logger,
	}
	if e.cfg.Listeners == nil {
		e.cfg.Listeners = e.proxies
	}

	return e
}

// Run consumes events from src until a close event, the end of the event
// stream, cancellation of ctx, or a fatal listener error. It returns only
// after the listeners have drained and NotifyClose has been sent. The
// returned error is non-nil only for fatal listener errors.
func (e *Engine) Run(ctx context.Context, src platform.Source) error {
	events, err := src.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to platform events: %w", err)
	}

	e.deliveries = make(chan delivery, deliveryQueueSize)
	e.delivered = make(chan struct{})
	go e.deliver()

	for {
		select {
		case <-ctx.Done():
			e.shutdown(ctx)
			return nil
		case err := <-e.listenErrs:
			e.running--
			if e.relay.Error(ctx, err) {
				e.shutdown(ctx)
				return err
			}
		case evt, ok := <-events:
			if !ok || evt.Type == platform.EventClose {
				e.shutdown(ctx)
				return nil
			}
			e.handle(ctx, evt)
		}
	}
}

// HealthCheck fails until the MQTT listener is bound.
func (e *Engine) HealthCheck(context.Context) error {
	if !e.ready.Load() || e.closing.Load() {
		return dgerrors.ErrNotReady
	}
	return nil
}

// Registry returns the device registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

func (e *Engine) handle(ctx context.Context, evt platform.Event) {
	if evt.Err != nil {
		e.onInvalid(ctx, evt)
		return
	}

	switch evt.Type {
	case platform.EventReady:
		e.onReady(ctx, evt)
	case platform.EventMessage:
		e.onMessage(ctx, evt)
	case platform.EventAddDevice:
		e.onDevice(ctx, evt, e.registry.Add)
	case platform.EventRemoveDevice:
		e.onDevice(ctx, evt, e.registry.Remove)
	}
}

// onInvalid reports a control message the source could not decode. A platform
// message whose id was recovered is also answered as not acknowledged.
func (e *Engine) onInvalid(ctx context.Context, evt platform.Event) {
	switch evt.Type {
	case platform.EventMessage:
		if evt.MessageID != "" {
			e.relay.Delivered(ctx, evt.MessageID, evt.Err)
			return
		}
	case platform.EventAddDevice, platform.EventRemoveDevice:
		e.relay.Exception(ctx, dgerrors.New(evt.Type.String(), "", "", fmt.Errorf("%w: %w", dgerrors.ErrMalformedDevice, evt.Err)))
		return
	}
	e.relay.Exception(ctx, dgerrors.New(evt.Type.String(), "", "", evt.Err))
}

func (e *Engine) onReady(ctx context.Context, evt platform.Event) {
	opts := evt.Options.WithDefaults(e.cfg.Defaults)
	if opts.QoSLevel() > 2 {
		e.relay.Exception(ctx, dgerrors.New("ready", "", "", fmt.Errorf("invalid QoS %d", opts.QoSLevel())))
		return
	}

	topics := access.Topics{
		Data:         opts.DataTopic,
		Message:      opts.MessageTopic,
		GroupMessage: opts.GroupMessageTopic,
	}.WithDefaults()
	set := access.NewTopicSet(topics, access.ParseShared(opts.SharedTopics)...)

	devices := e.registry.Initialize(evt.Devices)
	e.metrics.RegisteredDevices.Set(float64(devices))

	st := &state{
		control: access.NewControl(e.registry, set),
		auth:    access.NewAuthenticator(opts.Username, opts.Password),
		router: router.New(router.Config{
			Topics:    topics,
			QoS:       opts.QoSLevel(),
			Notifier:  e.notifier,
			Publisher: e.publisher,
			Logger:    e.logger,
		}),
		qos: opts.QoSLevel(),
	}
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()

	e.logger.Info("engine configured",
		slog.Int("devices", devices),
		slog.Any("topics", set.List()),
		slog.Bool("authentication", st.auth.Enabled()),
		slog.Int("qos", int(st.qos)))

	if !e.started {
		e.start(opts)
	}
}

func (e *Engine) start(opts platform.Options) {
	listeners := e.cfg.Listeners(opts, e, e.onListen)

	pctx, cancel := context.WithCancel(context.Background())
	e.stop = cancel
	e.started = true
	e.running = len(listeners)
	e.listenErrs = make(chan error, len(listeners))

	for _, l := range listeners {
		go func(l Listener) {
			e.listenErrs <- l.Listen(pctx)
		}(l)
	}
}

func (e *Engine) onListen(addr net.Addr) {
	e.ready.Store(true)
	e.logger.Info("broker ready", slog.String("address", addr.String()))
	e.relay.Ready(context.Background())
}

func (e *Engine) onMessage(ctx context.Context, evt platform.Event) {
	st := e.current()
	switch {
	case st == nil:
		e.relay.Delivered(ctx, evt.MessageID, dgerrors.ErrNotReady)
		return
	case evt.Device == nil || evt.Device.ID == "":
		e.relay.Delivered(ctx, evt.MessageID, dgerrors.ErrMalformedDevice)
		return
	}

	payload := messagePayload(evt.Message)
	if len(payload) == 0 {
		e.relay.Delivered(ctx, evt.MessageID, dgerrors.ErrEmptyPayload)
		return
	}

	e.deliveries <- delivery{
		ctx:       context.WithoutCancel(ctx),
		topic:     evt.Device.ID,
		payload:   payload,
		qos:       st.qos,
		messageID: evt.MessageID,
	}
}

// deliver publishes platform messages in the order they were requested.
func (e *Engine) deliver() {
	defer close(e.delivered)
	for d := range e.deliveries {
		err := e.publisher.Publish(d.ctx, d.topic, d.payload, d.qos, false)
		e.metrics.ObserveDelivery(err)
		e.relay.Delivered(d.ctx, d.messageID, err)
	}
}

func (e *Engine) onDevice(ctx context.Context, evt platform.Event, apply func(*registry.Device) error) {
	if err := apply(evt.Device); err != nil {
		e.relay.Exception(ctx, err)
		return
	}
	e.metrics.RegisteredDevices.Set(float64(e.registry.Len()))
	e.logger.Debug("registry updated", slog.String("event", evt.Type.String()), slog.String("device", evt.Device.ID))
}

// shutdown stops routing, drains the listeners and pending deliveries, then
// reports the close. Drain errors are reported without stopping the sequence.
func (e *Engine) shutdown(ctx context.Context) {
	e.closing.Store(true)
	ctx = context.WithoutCancel(ctx)

	if e.started {
		e.stop()
		for ; e.running > 0; e.running-- {
			if err := <-e.listenErrs; err != nil {
				e.relay.Exception(ctx, dgerrors.Wrap(err, "shutdown"))
			}
		}
	}

	close(e.deliveries)
	<-e.delivered

	e.relay.Closed(ctx)
	e.logger.Info("engine stopped")
}

func (e *Engine) current() *state {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) proxies(opts platform.Options, h handler.Handler, onListen func(net.Addr)) []Listener {
	listeners := []Listener{
		proxy.NewMQTT(proxy.MQTTConfig{
			Host:            e.cfg.Host,
			Port:            opts.Port,
			TargetHost:      e.cfg.TargetHost,
			TargetPort:      e.cfg.TargetPort,
			TLSConfig:       e.cfg.TLSConfig,
			ShutdownTimeout: e.cfg.ShutdownTimeout,
			OnListen:        onListen,
			Logger:          e.logger,
		}, h),
	}

	if e.cfg.WSPort != "" {
		listeners = append(listeners, proxy.NewWebSocket(proxy.WebSocketConfig{
			Host:            e.cfg.Host,
			Port:            e.cfg.WSPort,
			Path:            e.cfg.WSPath,
			TargetURL:       e.cfg.TargetWSURL,
			TLSConfig:       e.cfg.TLSConfig,
			ShutdownTimeout: e.cfg.ShutdownTimeout,
			Logger:          e.logger,
		}, h))
	}

	return listeners
}

// messagePayload publishes JSON strings as their text and any other JSON
// value as is.
func messagePayload(msg json.RawMessage) []byte {
	if len(msg) == 0 || string(msg) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return []byte(s)
	}
	return msg
}
