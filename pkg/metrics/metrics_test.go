// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics_test

import (
	"errors"
	"testing"

	"github.com/absmach/dgate/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAuth(t *testing.T) {
	m := metrics.New("", prometheus.NewRegistry())

	m.ObserveAuth("publish", true)
	m.ObserveAuth("publish", false)
	m.ObserveAuth("publish", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthDecisions.WithLabelValues("publish", metrics.ResultAllowed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthDecisions.WithLabelValues("publish", metrics.ResultDenied)))
}

func TestObserveRoute(t *testing.T) {
	m := metrics.New("", prometheus.NewRegistry())

	m.ObserveRoute("data", nil)
	m.ObserveRoute("message", errors.New("missing fields"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutedMessages.WithLabelValues("data", metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutedMessages.WithLabelValues("message", metrics.ResultError)))
}

func TestConnections(t *testing.T) {
	m := metrics.New("", prometheus.NewRegistry())

	m.Connected("mqtt")
	m.Connected("mqtt")
	m.Disconnected("mqtt")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections.WithLabelValues("mqtt")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TotalConnections.WithLabelValues("mqtt")))
}

func TestNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New("edge", reg)
	m.RegisteredDevices.Set(3)
	m.ObserveDelivery(nil)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "edge_registered_devices")
	assert.Contains(t, names, "edge_platform_messages_total")
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New("", reg)

	assert.Panics(t, func() { metrics.New("", reg) })
}
