// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker provides the MQTT client dgate uses to publish on the
// backend broker: acknowledgments to devices and platform messages.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	// ErrConnectionFailed is returned when the initial connection fails.
	ErrConnectionFailed = errors.New("broker connection failed")

	// ErrNotConnected is returned by HealthCheck while the connection is down.
	ErrNotConnected = errors.New("broker not connected")

	// ErrPublishTimeout is returned when the broker does not complete a publish in time.
	ErrPublishTimeout = errors.New("broker publish timeout")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("invalid QoS level")
)

// pahoClient is the subset of pahomqtt.Client used here.
type pahoClient interface {
	Connect() pahomqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// Client publishes to the backend broker. It is safe for concurrent use.
type Client struct {
	client  pahoClient
	cfg     Config
	logger  *slog.Logger
	closeMu sync.Once
}

// Connect builds the paho client from cfg and connects it. The paho client
// reconnects on its own after the first successful connection.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	c := &Client{cfg: cfg, logger: cfg.Logger}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.logger.Info("connected to broker", slog.String("url", cfg.URL))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("broker connection lost", slog.String("error", err.Error()))
	})
	c.client = pahomqtt.NewClient(opts)

	if err := wait(ctx, c.client.Connect(), cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// Publish sends payload to topic and waits until the broker has completed the
// QoS flow: written for QoS 0, PUBACK for QoS 1, PUBCOMP for QoS 2.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if qos > maxQoS {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	token := c.client.Publish(topic, qos, retain, payload)
	if err := wait(ctx, token, c.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// HealthCheck reports whether the broker connection is open.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("broker health check: %w", ctx.Err())
	default:
	}

	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects from the broker, letting in-flight work finish for the
// configured quiesce period.
func (c *Client) Close() error {
	c.closeMu.Do(func() {
		c.client.Disconnect(uint(c.cfg.DisconnectQuiesce / time.Millisecond))
	})
	return nil
}

func wait(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
