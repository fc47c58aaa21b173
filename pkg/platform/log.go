// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"context"
	"encoding/json"
	"log/slog"
)

var _ Notifier = (*LogNotifier)(nil)

// LogNotifier writes every notification to a structured logger. It serves
// standalone deployments that have no management plane attached.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ProcessData(ctx context.Context, clientID string, payload []byte) error {
	n.logger.InfoContext(ctx, "data received",
		slog.String("client_id", clientID),
		slog.String("payload", string(payload)))
	return nil
}

func (n *LogNotifier) SendMessageToDevice(ctx context.Context, target string, message json.RawMessage) error {
	n.logger.InfoContext(ctx, "message to device",
		slog.String("target", target),
		slog.String("message", string(message)))
	return nil
}

func (n *LogNotifier) SendMessageToGroup(ctx context.Context, target string, message json.RawMessage) error {
	n.logger.InfoContext(ctx, "message to group",
		slog.String("target", target),
		slog.String("message", string(message)))
	return nil
}

func (n *LogNotifier) SendMessageResponse(ctx context.Context, messageID, status string) error {
	n.logger.InfoContext(ctx, "message response",
		slog.String("message_id", messageID),
		slog.String("status", status))
	return nil
}

func (n *LogNotifier) NotifyConnection(ctx context.Context, clientID string) error {
	n.logger.InfoContext(ctx, "client connected", slog.String("client_id", clientID))
	return nil
}

func (n *LogNotifier) NotifyDisconnection(ctx context.Context, clientID string) error {
	n.logger.InfoContext(ctx, "client disconnected", slog.String("client_id", clientID))
	return nil
}

func (n *LogNotifier) NotifyReady(ctx context.Context) error {
	n.logger.InfoContext(ctx, "service ready")
	return nil
}

func (n *LogNotifier) NotifyClose(ctx context.Context) error {
	n.logger.InfoContext(ctx, "service closed")
	return nil
}

func (n *LogNotifier) Log(ctx context.Context, rec Record) error {
	attrs := make([]any, 0, len(rec.Fields))
	for k, v := range rec.Fields {
		attrs = append(attrs, slog.String(k, v))
	}
	n.logger.Log(ctx, level(rec.Level), rec.Message, attrs...)
	return nil
}

func (n *LogNotifier) HandleException(ctx context.Context, err error) error {
	n.logger.ErrorContext(ctx, "exception", slog.String("error", err.Error()))
	return nil
}

func level(l string) slog.Level {
	switch l {
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
