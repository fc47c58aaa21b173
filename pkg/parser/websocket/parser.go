// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/absmach/dgate/pkg/handler"
	"github.com/absmach/dgate/pkg/parser"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Subprotocol is the WebSocket subprotocol negotiated for MQTT.
const Subprotocol = "mqtt"

// Parser upgrades HTTP requests to WebSocket, dials the backend broker over
// WebSocket and runs the underlying parser over both connections.
type Parser struct {
	upgrader         websocket.Upgrader
	dialer           *websocket.Dialer
	targetURL        string
	underlyingParser parser.Parser
	handler          handler.Handler
	logger           *slog.Logger

	mu       sync.Mutex
	draining bool
	sessions sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

var _ http.Handler = (*Parser)(nil)

// NewParser creates a new WebSocket parser.
// underlyingParser handles the protocol carried in the binary frames.
func NewParser(targetURL string, underlyingParser parser.Parser, h handler.Handler, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Parser{
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Subprotocol},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
			Subprotocols:     []string{Subprotocol},
		},
		targetURL:        targetURL,
		underlyingParser: underlyingParser,
		handler:          h,
		logger:           logger,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// ServeHTTP upgrades the client connection and proxies it to the backend.
func (p *Parser) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !p.begin() {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	defer p.sessions.Done()

	targetURL, err := p.buildTargetURL(r)
	if err != nil {
		p.logger.Error("failed to build target URL", slog.String("error", err.Error()))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	// Dial first so a missing backend is reported as an HTTP error.
	serverConn, _, err := p.dialer.DialContext(r.Context(), targetURL, nil)
	if err != nil {
		p.logger.Error("failed to dial backend WebSocket",
			slog.String("target", targetURL),
			slog.String("error", err.Error()))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer serverConn.Close()

	clientConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Error("failed to upgrade client connection",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	defer clientConn.Close()

	p.serve(NewConn(clientConn), NewConn(serverConn), r.RemoteAddr)
}

func (p *Parser) serve(client, server net.Conn, remote string) {
	sessionID := uuid.New().String()
	hctx := &handler.Context{
		SessionID:  sessionID,
		RemoteAddr: remote,
		Protocol:   "websocket",
	}

	p.logger.Debug("websocket connection established",
		slog.String("session", sessionID),
		slog.String("client", remote))

	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- p.stream(ctx, client, server, parser.Upstream, hctx)
	}()
	go func() {
		errCh <- p.stream(ctx, server, client, parser.Downstream, hctx)
	}()

	// One direction ending ends the session.
	var streamErr error
	received := 0
	select {
	case streamErr = <-errCh:
		received++
	case <-ctx.Done():
	}
	client.Close()
	server.Close()
	for ; received < 2; received++ {
		if err := <-errCh; streamErr == nil {
			streamErr = err
		}
	}

	if streamErr != nil && !errors.Is(streamErr, io.EOF) {
		p.logger.Debug("stream error",
			slog.String("session", sessionID),
			slog.String("error", streamErr.Error()))
	}

	if err := p.handler.OnDisconnect(context.Background(), hctx); err != nil {
		p.logger.Error("disconnect handler error",
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
	}

	p.logger.Debug("websocket connection closed", slog.String("session", sessionID))
}

// stream parses packets in one direction until an error or cancellation.
func (p *Parser) stream(ctx context.Context, r, w io.ReadWriter, dir parser.Direction, hctx *handler.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.underlyingParser.Parse(ctx, r, w, dir, p.handler, hctx); err != nil {
			return err
		}
	}
}

// Close terminates every active session.
func (p *Parser) Close() {
	p.cancel()
}

// begin registers a session. It fails once Wait has been called.
func (p *Parser) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return false
	}
	p.sessions.Add(1)
	return true
}

// Wait rejects new sessions and blocks until every active session has ended.
func (p *Parser) Wait() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
	p.sessions.Wait()
}

// buildTargetURL keeps the request path and query on the backend URL.
func (p *Parser) buildTargetURL(r *http.Request) (string, error) {
	target, err := url.Parse(p.targetURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse target URL: %w", err)
	}

	if r.URL.Path != "" && r.URL.Path != "/" {
		target.Path = r.URL.Path
	}
	target.RawQuery = r.URL.RawQuery

	return target.String(), nil
}
