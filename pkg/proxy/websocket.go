// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/absmach/dgate/pkg/handler"
	"github.com/absmach/dgate/pkg/parser/mqtt"
	"github.com/absmach/dgate/pkg/parser/websocket"
	"github.com/absmach/dgate/pkg/server/tcp"
)

// WebSocketConfig holds configuration for the MQTT-over-WebSocket proxy.
type WebSocketConfig struct {
	Host            string
	Port            string
	Path            string
	TargetURL       string
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration
	OnListen        func(addr net.Addr)
	Logger          *slog.Logger
}

// WebSocketProxy coordinates the HTTP server and the WebSocket parser.
type WebSocketProxy struct {
	server   *http.Server
	parser   *websocket.Parser
	timeout  time.Duration
	onListen func(addr net.Addr)
	logger   *slog.Logger
}

// NewWebSocket creates a WebSocket proxy carrying MQTT to cfg.TargetURL.
func NewWebSocket(cfg WebSocketConfig, h handler.Handler) *WebSocketProxy {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}

	p := websocket.NewParser(cfg.TargetURL, &mqtt.Parser{}, h, cfg.Logger)
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, p)

	return &WebSocketProxy{
		server: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
			Handler:           mux,
			TLSConfig:         cfg.TLSConfig,
			ReadHeaderTimeout: 10 * time.Second,
		},
		parser:   p,
		timeout:  cfg.ShutdownTimeout,
		onListen: cfg.OnListen,
		logger:   cfg.Logger,
	}
}

// Listen serves until ctx is cancelled, then drains active sessions.
func (p *WebSocketProxy) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", p.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.server.Addr, err)
	}

	p.logger.Info("WebSocket server started", slog.String("address", listener.Addr().String()))
	if p.onListen != nil {
		p.onListen(listener.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		if p.server.TLSConfig != nil {
			errCh <- p.server.ServeTLS(listener, "", "")
			return
		}
		errCh <- p.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		p.logger.Info("shutdown signal received, closing WebSocket server")
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	// Shutdown does not track hijacked connections, so sessions are drained separately.
	if err := p.server.Shutdown(shutdownCtx); err != nil {
		p.logger.Error("error during shutdown", slog.String("error", err.Error()))
	}

	done := make(chan struct{})
	go func() {
		p.parser.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("WebSocket server shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		p.logger.Warn("shutdown timeout exceeded, forcing session closure")
		p.parser.Close()
		<-done
		return tcp.ErrShutdownTimeout
	}
}
