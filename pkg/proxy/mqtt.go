// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/absmach/dgate/pkg/handler"
	"github.com/absmach/dgate/pkg/parser/mqtt"
	"github.com/absmach/dgate/pkg/server/tcp"
)

// MQTTConfig holds configuration for the MQTT proxy.
type MQTTConfig struct {
	Host            string
	Port            string
	TargetHost      string
	TargetPort      string
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration
	OnListen        func(addr net.Addr)
	Logger          *slog.Logger
}

// MQTTProxy coordinates the MQTT TCP server and parser.
type MQTTProxy struct {
	server *tcp.Server
}

// NewMQTT creates an MQTT proxy that runs h for every client connection.
func NewMQTT(cfg MQTTConfig, h handler.Handler) *MQTTProxy {
	serverCfg := tcp.Config{
		Address:         net.JoinHostPort(cfg.Host, cfg.Port),
		TargetAddress:   net.JoinHostPort(cfg.TargetHost, cfg.TargetPort),
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: cfg.ShutdownTimeout,
		OnListen:        cfg.OnListen,
		Logger:          cfg.Logger,
	}

	return &MQTTProxy{
		server: tcp.New(serverCfg, &mqtt.Parser{}, h),
	}
}

// Listen serves until ctx is cancelled and active connections have drained.
func (p *MQTTProxy) Listen(ctx context.Context) error {
	return p.server.Listen(ctx)
}
