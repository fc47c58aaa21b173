// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/dgate/pkg/handler"
	"github.com/absmach/dgate/pkg/parser"
	"github.com/google/uuid"
)

// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

const maxAcceptDelay = time.Second

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port).
	Address string

	// TargetAddress is the backend broker address (host:port).
	TargetAddress string

	// TLSConfig enables TLS termination on the listener when set.
	TLSConfig *tls.Config

	// ShutdownTimeout bounds the wait for active connections to drain.
	// Remaining connections are closed when it expires.
	ShutdownTimeout time.Duration

	// OnListen is called once the listener is bound, with its address.
	OnListen func(addr net.Addr)

	// Logger for server events.
	Logger *slog.Logger
}

// Server accepts client connections and proxies each one to the backend
// broker through a parser.
type Server struct {
	config  Config
	parser  parser.Parser
	handler handler.Handler
	wg      sync.WaitGroup
}

// New creates a new TCP server with the given configuration, parser, and handler.
func New(cfg Config, p parser.Parser, h handler.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return &Server{
		config:  cfg,
		parser:  p,
		handler: h,
	}
}

// Listen binds the listener and serves until ctx is cancelled, then drains
// active connections. A bind failure is returned wrapped, so callers can test
// it with errors.Is (for example against syscall.EADDRINUSE).
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	addr := listener.Addr()

	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", addr.String()))
	}

	s.config.Logger.Info("TCP server started", slog.String("address", addr.String()))
	if s.config.OnListen != nil {
		s.config.OnListen(addr)
	}

	// Connections outlive ctx until the drain timeout expires.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.accept(ctx, connCtx, listener)
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		connCancel()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return ErrShutdownTimeout
	}
}

func (s *Server) accept(ctx, connCtx context.Context, listener net.Listener) {
	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.config.Logger.Error("failed to accept connection",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.handleConn(connCtx, conn); err != nil && !errors.Is(err, io.EOF) {
				s.config.Logger.Debug("connection handler error",
					slog.String("remote", conn.RemoteAddr().String()),
					slog.String("error", err.Error()))
			}
		}()
	}
}

// handleConn dials the backend for one client connection and streams both
// directions through the parser. The first direction to end closes both
// connections. OnDisconnect is called exactly once per connection.
func (s *Server) handleConn(ctx context.Context, inbound net.Conn) error {
	defer inbound.Close()

	sessionID := uuid.New().String()
	hctx := &handler.Context{
		SessionID:  sessionID,
		RemoteAddr: inbound.RemoteAddr().String(),
		Protocol:   "tcp",
	}

	if tlsConn, ok := inbound.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) > 0 {
			hctx.Cert = state.PeerCertificates[0]
		}
	}

	var d net.Dialer
	outbound, err := d.DialContext(ctx, "tcp", s.config.TargetAddress)
	if err != nil {
		return fmt.Errorf("failed to dial backend %s: %w", s.config.TargetAddress, err)
	}
	defer outbound.Close()

	s.config.Logger.Debug("connection established",
		slog.String("session", sessionID),
		slog.String("client", hctx.RemoteAddr),
		slog.String("backend", s.config.TargetAddress))

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.stream(ctx, inbound, outbound, parser.Upstream, hctx)
	}()
	go func() {
		errCh <- s.stream(ctx, outbound, inbound, parser.Downstream, hctx)
	}()

	var streamErr error
	received := 0
	select {
	case streamErr = <-errCh:
		received++
	case <-ctx.Done():
	}
	inbound.Close()
	outbound.Close()
	for ; received < 2; received++ {
		if err := <-errCh; streamErr == nil {
			streamErr = err
		}
	}

	if err := s.handler.OnDisconnect(context.Background(), hctx); err != nil {
		s.config.Logger.Error("disconnect handler error",
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
	}

	s.config.Logger.Debug("connection closed", slog.String("session", sessionID))

	if errors.Is(streamErr, net.ErrClosed) {
		return nil
	}
	return streamErr
}

// stream parses packets in one direction until an error or cancellation.
func (s *Server) stream(ctx context.Context, r, w net.Conn, dir parser.Direction, hctx *handler.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.parser.Parse(ctx, r, w, dir, s.handler, hctx); err != nil {
			return err
		}
	}
}
