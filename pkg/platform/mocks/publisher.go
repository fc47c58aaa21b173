// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"sync"
)

// Publication is a recorded publish.
type Publication struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Publisher records publishes instead of sending them to a broker.
type Publisher struct {
	mu   sync.Mutex
	pubs []Publication

	// Err is returned from Publish when set.
	Err error
}

// NewPublisher creates a recording Publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish records the publication.
func (p *Publisher) Publish(_ context.Context, topic string, payload []byte, qos byte, retain bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.pubs = append(p.pubs, Publication{Topic: topic, Payload: payload, QoS: qos, Retain: retain})
	return nil
}

// Publications returns the recorded publications in order.
func (p *Publisher) Publications() []Publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Publication(nil), p.pubs...)
}
