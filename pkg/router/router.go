// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package router classifies published payloads into telemetry, direct
// messages and group messages, validates them and dispatches them to the
// management plane.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/absmach/dgate/pkg/access"
	dgerrors "github.com/absmach/dgate/pkg/errors"
	"github.com/absmach/dgate/pkg/platform"
)

// Acknowledgment payloads published to the sender's own topic.
const (
	AckData         = "Data Received"
	AckMessage      = "Message Sent"
	AckGroupMessage = "Group Message Sent"
)

// Publisher sends a message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

// Envelope is a single inbound publish.
type Envelope struct {
	ClientID  string
	Topic     string
	Payload   []byte
	MessageID uint16
}

// fields returns the audit record fields identifying env on channel ch.
func (env Envelope) fields(ch Channel) map[string]string {
	f := map[string]string{
		"channel":   ch.String(),
		"client_id": env.ClientID,
	}
	if env.MessageID != 0 {
		f["message_id"] = strconv.FormatUint(uint64(env.MessageID), 10)
	}
	return f
}

// wrap annotates err with the operation and the publish it concerns.
func (env Envelope) wrap(op string, ch Channel, err error) error {
	return &dgerrors.Error{
		Op:        op,
		Channel:   ch.String(),
		ClientID:  env.ClientID,
		MessageID: env.MessageID,
		Err:       err,
	}
}

// Config holds the Router dependencies.
type Config struct {
	Topics    access.Topics
	QoS       byte
	Notifier  platform.Notifier
	Publisher Publisher
	Logger    *slog.Logger
}

// Router routes inbound publishes. It is safe for concurrent use as long as
// its Notifier and Publisher are.
type Router struct {
	topics    access.Topics
	qos       byte
	notifier  platform.Notifier
	publisher Publisher
	logger    *slog.Logger
}

// New creates a Router.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		topics:    cfg.Topics.WithDefaults(),
		qos:       cfg.QoS,
		notifier:  cfg.Notifier,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
}

// Classify returns the channel of topic.
func (r *Router) Classify(topic string) Channel {
	return Classify(r.topics, topic)
}

// Route classifies, validates and dispatches one publish. Publishes on
// unrecognized topics are ignored. Failures are reported to the notifier
// before being returned.
func (r *Router) Route(ctx context.Context, env Envelope) (Channel, error) {
	ch := r.Classify(env.Topic)

	switch ch {
	case Telemetry:
		return ch, r.routeTelemetry(ctx, env)
	case DirectMessage, GroupMessage:
		return ch, r.routeAddressed(ctx, ch, env)
	case Unrecognized:
		return ch, nil
	default:
		return Unrecognized, nil
	}
}

func (r *Router) routeTelemetry(ctx context.Context, env Envelope) error {
	if err := ParseTelemetry(env.Payload); err != nil {
		err = env.wrap("route", Telemetry, err)
		if errors.Is(err, dgerrors.ErrMalformedPayload) {
			fields := env.fields(Telemetry)
			fields["payload"] = string(env.Payload)
			r.log(ctx, platform.Record{
				Level:   platform.LevelError,
				Message: err.Error(),
				Fields:  fields,
			})
			return err
		}
		r.exception(ctx, err)
		return err
	}

	if err := r.notifier.ProcessData(ctx, env.ClientID, env.Payload); err != nil {
		err = env.wrap("dispatch", Telemetry, err)
		r.exception(ctx, err)
		return err
	}

	r.acknowledge(ctx, Telemetry, env)
	fields := env.fields(Telemetry)
	fields["data"] = string(env.Payload)
	r.log(ctx, platform.Record{
		Level:   platform.LevelInfo,
		Message: "data received",
		Fields:  fields,
	})

	return nil
}

func (r *Router) routeAddressed(ctx context.Context, ch Channel, env Envelope) error {
	msg, err := ParseAddressed(ch, env.Payload)
	if err != nil {
		err = env.wrap("route", ch, err)
		r.exception(ctx, err)
		return err
	}

	switch ch {
	case DirectMessage:
		err = r.notifier.SendMessageToDevice(ctx, msg.Target, msg.Message)
	case GroupMessage:
		err = r.notifier.SendMessageToGroup(ctx, msg.Target, msg.Message)
	}
	if err != nil {
		err = env.wrap("dispatch", ch, err)
		r.exception(ctx, err)
		return err
	}

	r.acknowledge(ctx, ch, env)
	fields := env.fields(ch)
	fields["source"] = env.ClientID
	fields["target"] = msg.Target
	fields["message"] = string(msg.Message)
	r.log(ctx, platform.Record{
		Level:   platform.LevelInfo,
		Message: ch.String() + " sent",
		Fields:  fields,
	})

	return nil
}

// acknowledge publishes the channel acknowledgment to the sender's own topic.
func (r *Router) acknowledge(ctx context.Context, ch Channel, env Envelope) {
	if r.publisher == nil || env.ClientID == "" {
		return
	}
	if err := r.publisher.Publish(ctx, env.ClientID, []byte(ch.ack()), r.qos, false); err != nil {
		r.exception(ctx, env.wrap("acknowledge", ch, err))
	}
}

func (r *Router) log(ctx context.Context, rec platform.Record) {
	if err := r.notifier.Log(ctx, rec); err != nil {
		r.logger.Warn("failed to send log record",
			slog.String("message", rec.Message),
			slog.String("error", err.Error()))
	}
}

func (r *Router) exception(ctx context.Context, err error) {
	r.logger.Warn("routing failed", slog.String("error", err.Error()))
	if nerr := r.notifier.HandleException(ctx, err); nerr != nil {
		r.logger.Error("failed to report exception",
			slog.String("exception", err.Error()),
			slog.String("error", nerr.Error()))
	}
}
