// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for dgate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultNamespace = "dgate"

// Label values shared by the collectors.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds all Prometheus metrics for dgate.
type Metrics struct {
	// Authorization metrics
	AuthDecisions *prometheus.CounterVec

	// Routing metrics
	RoutedMessages    *prometheus.CounterVec
	PlatformMessages  *prometheus.CounterVec
	RegisteredDevices prometheus.Gauge

	// Connection metrics
	ActiveConnections *prometheus.GaugeVec
	TotalConnections  *prometheus.CounterVec

	// Management plane metrics
	NotificationFailures *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
	CircuitBreakerTrips  *prometheus.CounterVec
}

// New registers the dgate collectors with reg. A nil reg uses the default
// Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AuthDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_decisions_total",
				Help:      "Total number of authorization decisions",
			},
			[]string{"operation", "result"},
		),
		RoutedMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routed_messages_total",
				Help:      "Total number of published messages routed by channel",
			},
			[]string{"channel", "result"},
		),
		PlatformMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_messages_total",
				Help:      "Total number of platform messages published to devices",
			},
			[]string{"result"},
		),
		RegisteredDevices: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_devices",
				Help:      "Number of devices in the registry",
			},
		),
		ActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently connected clients",
			},
			[]string{"protocol"},
		),
		TotalConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of accepted client connections",
			},
			[]string{"protocol"},
		),
		NotificationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_failures_total",
				Help:      "Total number of notifications the management plane did not accept",
			},
			[]string{"notification"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"backend"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"backend"},
		),
	}
}

// ObserveAuth counts an authorization decision.
func (m *Metrics) ObserveAuth(operation string, allowed bool) {
	result := ResultDenied
	if allowed {
		result = ResultAllowed
	}
	m.AuthDecisions.WithLabelValues(operation, result).Inc()
}

// ObserveRoute counts a routed message. Unrecognized topics are not counted.
func (m *Metrics) ObserveRoute(channel string, err error) {
	m.RoutedMessages.WithLabelValues(channel, result(err)).Inc()
}

// ObserveDelivery counts the outcome of a platform message publish.
func (m *Metrics) ObserveDelivery(err error) {
	m.PlatformMessages.WithLabelValues(result(err)).Inc()
}

// Connected tracks a new client connection.
func (m *Metrics) Connected(protocol string) {
	m.ActiveConnections.WithLabelValues(protocol).Inc()
	m.TotalConnections.WithLabelValues(protocol).Inc()
}

// Disconnected tracks a closed client connection.
func (m *Metrics) Disconnected(protocol string) {
	m.ActiveConnections.WithLabelValues(protocol).Dec()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
