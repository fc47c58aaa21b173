// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package nats

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/absmach/dgate/pkg/platform"
	broker "github.com/nats-io/nats.go"
)

const (
	// Value -1 keeps the client reconnecting to the NATS server forever.
	maxReconnects = -1

	eventsBuffer = 64
)

// ErrNotConnected is returned by HealthCheck while the NATS connection is down.
var ErrNotConnected = errors.New("nats not connected")

var _ platform.Source = (*Source)(nil)

// Connect opens a NATS connection that reconnects indefinitely.
func Connect(url string, logger *slog.Logger) (*broker.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return broker.Connect(url,
		broker.Name("dgate"),
		broker.MaxReconnects(maxReconnects),
		broker.DisconnectErrHandler(func(_ *broker.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		broker.ReconnectHandler(func(c *broker.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
}

// HealthCheck reports whether conn is connected.
func HealthCheck(conn *broker.Conn) func(ctx context.Context) error {
	return func(context.Context) error {
		if !conn.IsConnected() {
			return ErrNotConnected
		}
		return nil
	}
}

// Source delivers control events received over NATS.
type Source struct {
	conn   *broker.Conn
	prefix string
	logger *slog.Logger
}

// NewSource creates a Source reading <prefix>.control.> on conn.
func NewSource(conn *broker.Conn, prefix string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}
}

// Subscribe subscribes to the control subjects. The returned channel is
// closed once ctx is done.
func (s *Source) Subscribe(ctx context.Context) (<-chan platform.Event, error) {
	st := newStream(ctx, s.prefix, s.logger)

	sub, err := s.conn.Subscribe(controlPrefix(s.prefix)+">", st.handle)
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, broker.ErrConnectionClosed) {
			s.logger.Warn("failed to unsubscribe from control events", slog.String("error", err.Error()))
		}
		st.close()
	}()

	return st.events, nil
}

// stream decodes control messages onto an events channel. The NATS client
// invokes the handler of one subscription serially.
type stream struct {
	ctx    context.Context
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	events chan platform.Event
}

func newStream(ctx context.Context, prefix string, logger *slog.Logger) *stream {
	return &stream{
		ctx:    ctx,
		prefix: prefix,
		logger: logger,
		events: make(chan platform.Event, eventsBuffer),
	}
}

func (st *stream) handle(msg *broker.Msg) {
	evt, err := decode(st.prefix, msg.Subject, msg.Data)
	if err != nil {
		st.logger.Warn("malformed control message", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}

	select {
	case st.events <- evt:
	case <-st.ctx.Done():
	}
}

func (st *stream) close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	close(st.events)
}
