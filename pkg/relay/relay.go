// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package relay translates broker session events into management plane
// notifications.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"syscall"

	dgerrors "github.com/absmach/dgate/pkg/errors"
	"github.com/absmach/dgate/pkg/platform"
)

// Delivery status texts sent with SendMessageResponse.
const (
	StatusAcknowledged    = "Message acknowledged"
	StatusNotAcknowledged = "Message not acknowledged"
)

// Relay forwards session events to a platform.Notifier. It holds no state.
type Relay struct {
	notifier platform.Notifier
	logger   *slog.Logger
}

// New creates a Relay.
func New(n platform.Notifier, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{notifier: n, logger: logger}
}

// ClientConnected reports a connected client.
func (r *Relay) ClientConnected(ctx context.Context, clientID string) {
	r.check("connection", r.notifier.NotifyConnection(ctx, clientID))
}

// ClientDisconnected reports a disconnected client.
func (r *Relay) ClientDisconnected(ctx context.Context, clientID string) {
	r.check("disconnection", r.notifier.NotifyDisconnection(ctx, clientID))
}

// Ready reports that the broker listeners are bound.
func (r *Relay) Ready(ctx context.Context) {
	r.check("ready", r.notifier.NotifyReady(ctx))
}

// Closed reports that the service has shut down.
func (r *Relay) Closed(ctx context.Context) {
	r.check("close", r.notifier.NotifyClose(ctx))
}

// Delivered reports the outcome of a publish requested by the platform.
func (r *Relay) Delivered(ctx context.Context, messageID string, err error) {
	if err == nil {
		r.check("response", r.notifier.SendMessageResponse(ctx, messageID, StatusAcknowledged))
		return
	}
	r.check("response", r.notifier.SendMessageResponse(ctx, messageID, StatusNotAcknowledged))
	r.Exception(ctx, dgerrors.New("deliver", "message", "", err))
}

// Error reports a broker transport error and returns true when the error is
// fatal to the process. Only an address already in use is fatal.
func (r *Relay) Error(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	fatal := Fatal(err)
	if fatal {
		r.logger.Error("broker transport failed", slog.String("error", err.Error()))
	} else {
		r.logger.Warn("broker transport error", slog.String("error", err.Error()))
	}
	r.Exception(ctx, err)
	return fatal
}

// Exception sends err to the exception channel.
func (r *Relay) Exception(ctx context.Context, err error) {
	if nerr := r.notifier.HandleException(ctx, err); nerr != nil {
		r.logger.Error("failed to report exception",
			slog.String("exception", err.Error()),
			slog.String("error", nerr.Error()))
	}
}

// Fatal reports whether err is a transport error the process cannot recover from.
func Fatal(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

func (r *Relay) check(notification string, err error) {
	if err != nil {
		r.logger.Warn("failed to send notification",
			slog.String("notification", notification),
			slog.String("error", err.Error()))
	}
}
