// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package platform_test

import (
	"context"
	"errors"
	"testing"

	"github.com/absmach/dgate/pkg/metrics"
	"github.com/absmach/dgate/pkg/platform"
	"github.com/absmach/dgate/pkg/platform/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.New("", prometheus.NewRegistry())
	next := mocks.NewNotifier()
	n := platform.MetricsMiddleware(next, m)
	ctx := context.Background()

	assert.NoError(t, n.NotifyReady(ctx))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues("notify_ready")))

	next.Err = errors.New("unavailable")
	assert.Error(t, n.NotifyConnection(ctx, "dev1"))
	assert.Error(t, n.HandleException(ctx, errors.New("boom")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues("notify_connection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues("handle_exception")))
	assert.Len(t, next.Calls(), 3)
}
