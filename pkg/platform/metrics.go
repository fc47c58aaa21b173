// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"context"
	"encoding/json"

	"github.com/absmach/dgate/pkg/metrics"
)

var _ Notifier = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	metrics *metrics.Metrics
	next    Notifier
}

// MetricsMiddleware wraps n and counts every notification it fails to deliver.
func MetricsMiddleware(n Notifier, m *metrics.Metrics) Notifier {
	return &metricsMiddleware{
		metrics: m,
		next:    n,
	}
}

func (mm *metricsMiddleware) ProcessData(ctx context.Context, clientID string, payload []byte) error {
	return mm.count("process_data", mm.next.ProcessData(ctx, clientID, payload))
}

func (mm *metricsMiddleware) SendMessageToDevice(ctx context.Context, target string, message json.RawMessage) error {
	return mm.count("send_message_to_device", mm.next.SendMessageToDevice(ctx, target, message))
}

func (mm *metricsMiddleware) SendMessageToGroup(ctx context.Context, target string, message json.RawMessage) error {
	return mm.count("send_message_to_group", mm.next.SendMessageToGroup(ctx, target, message))
}

func (mm *metricsMiddleware) SendMessageResponse(ctx context.Context, messageID, status string) error {
	return mm.count("send_message_response", mm.next.SendMessageResponse(ctx, messageID, status))
}

func (mm *metricsMiddleware) NotifyConnection(ctx context.Context, clientID string) error {
	return mm.count("notify_connection", mm.next.NotifyConnection(ctx, clientID))
}

func (mm *metricsMiddleware) NotifyDisconnection(ctx context.Context, clientID string) error {
	return mm.count("notify_disconnection", mm.next.NotifyDisconnection(ctx, clientID))
}

func (mm *metricsMiddleware) NotifyReady(ctx context.Context) error {
	return mm.count("notify_ready", mm.next.NotifyReady(ctx))
}

func (mm *metricsMiddleware) NotifyClose(ctx context.Context) error {
	return mm.count("notify_close", mm.next.NotifyClose(ctx))
}

func (mm *metricsMiddleware) Log(ctx context.Context, rec Record) error {
	return mm.count("log", mm.next.Log(ctx, rec))
}

func (mm *metricsMiddleware) HandleException(ctx context.Context, err error) error {
	return mm.count("handle_exception", mm.next.HandleException(ctx, err))
}

func (mm *metricsMiddleware) count(notification string, err error) error {
	if err != nil {
		mm.metrics.NotificationFailures.WithLabelValues(notification).Inc()
	}
	return err
}
