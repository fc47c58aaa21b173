// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"crypto/tls"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultMaxReconnect      = 30 * time.Second

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12
)

// Config holds the broker client configuration.
type Config struct {
	URL               string
	ClientID          string
	Username          string
	Password          string
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectQuiesce time.Duration
	KeepAlive         time.Duration
	Logger            *slog.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.DisconnectQuiesce == 0 {
		cfg.DisconnectQuiesce = defaultDisconnectQuiesce
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// buildClientOptions maps Config to paho options: clean session, automatic
// reconnect and TLS for ssl://, tls:// and wss:// URLs.
func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(defaultMaxReconnect)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetWriteTimeout(cfg.PublishTimeout)
	opts.SetKeepAlive(cfg.KeepAlive)

	if secure(cfg.URL) {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

func secure(url string) bool {
	for _, scheme := range []string{"ssl://", "tls://", "mqtts://", "wss://"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}
