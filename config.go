// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package dgate holds the service configuration of the device gateway.
package dgate

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/dgate/pkg/platform"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the prefix of every configuration variable.
const EnvPrefix = "DGATE_"

// Supported management planes.
const (
	PlatformSnapshot = "snapshot"
	PlatformNATS     = "nats"
)

var (
	errInvalidQoS      = errors.New("QoS must be 0, 1 or 2")
	errInvalidPlatform = errors.New("unsupported platform")
	errPartialTLS      = errors.New("both server certificate and key are required for TLS")
)

// Config is the service configuration.
type Config struct {
	Host        string `env:"HOST"          envDefault:""`
	Port        string `env:"PORT"          envDefault:"1883"`
	WSPort      string `env:"WS_PORT"       envDefault:""`
	WSPath      string `env:"WS_PATH"       envDefault:"/"`
	TargetHost  string `env:"TARGET_HOST"   envDefault:"localhost"`
	TargetPort  string `env:"TARGET_PORT"   envDefault:"1884"`
	TargetWSURL string `env:"TARGET_WS_URL" envDefault:"ws://localhost:8884/mqtt"`

	Username          string `env:"USERNAME"            envDefault:""`
	Password          string `env:"PASSWORD"            envDefault:""`
	DataTopic         string `env:"DATA_TOPIC"          envDefault:"data"`
	MessageTopic      string `env:"MESSAGE_TOPIC"       envDefault:"message"`
	GroupMessageTopic string `env:"GROUP_MESSAGE_TOPIC" envDefault:"groupmessage"`
	SharedTopics      string `env:"SHARED_TOPICS"       envDefault:""`
	QoS               uint8  `env:"QOS"                 envDefault:"0"`

	ServerCert      string        `env:"SERVER_CERT"      envDefault:""`
	ServerKey       string        `env:"SERVER_KEY"       envDefault:""`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	HTTPPort  string `env:"HTTP_PORT"  envDefault:"9090"`

	Platform    string `env:"PLATFORM"     envDefault:"snapshot"`
	DevicesFile string `env:"DEVICES_FILE" envDefault:""`
	NATSURL     string `env:"NATS_URL"     envDefault:"nats://localhost:4222"`
	NATSPrefix  string `env:"NATS_PREFIX"  envDefault:"dgate"`

	BrokerURL      string `env:"BROKER_URL"       envDefault:"tcp://localhost:1884"`
	BrokerClientID string `env:"BROKER_CLIENT_ID" envDefault:"dgate"`
	BrokerUsername string `env:"BROKER_USERNAME"  envDefault:""`
	BrokerPassword string `env:"BROKER_PASSWORD"  envDefault:""`

	TLSConfig *tls.Config `env:"-"`
}

// NewConfig parses the configuration from the environment. The prefix of
// opts defaults to EnvPrefix.
func NewConfig(opts env.Options) (Config, error) {
	if opts.Prefix == "" {
		opts.Prefix = EnvPrefix
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.ServerCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ServerCert, cfg.ServerKey)
		if err != nil {
			return Config{}, fmt.Errorf("failed to load server certificate: %w", err)
		}
		cfg.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("%w: %d", errInvalidQoS, c.QoS)
	}
	switch c.Platform {
	case PlatformSnapshot, PlatformNATS:
	default:
		return fmt.Errorf("%w: %q", errInvalidPlatform, c.Platform)
	}
	if (c.ServerCert == "") != (c.ServerKey == "") {
		return errPartialTLS
	}
	return nil
}

// Options returns the runtime options used when the management plane leaves
// them unset.
func (c Config) Options() platform.Options {
	qos := c.QoS
	return platform.Options{
		Port:              c.Port,
		Username:          c.Username,
		Password:          c.Password,
		DataTopic:         c.DataTopic,
		MessageTopic:      c.MessageTopic,
		GroupMessageTopic: c.GroupMessageTopic,
		SharedTopics:      c.SharedTopics,
		QoS:               &qos,
	}
}
