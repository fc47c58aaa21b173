// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/absmach/dgate/pkg/platform"
)

var _ platform.Notifier = (*Notifier)(nil)

// Call is a recorded Notifier invocation.
type Call struct {
	Method string
	Args   []string
	Record platform.Record
	Err    error
}

// Notifier records every call it receives.
type Notifier struct {
	mu    sync.Mutex
	calls []Call

	// Err is returned from every method when set.
	Err error
}

// NewNotifier creates a recording Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) record(c Call) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
	return n.Err
}

// Calls returns the recorded calls in order.
func (n *Notifier) Calls() []Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Call(nil), n.calls...)
}

// Find returns the recorded calls of the given method.
func (n *Notifier) Find(method string) []Call {
	var ret []Call
	for _, c := range n.Calls() {
		if c.Method == method {
			ret = append(ret, c)
		}
	}
	return ret
}

// Reset forgets all recorded calls.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = nil
}

func (n *Notifier) ProcessData(_ context.Context, clientID string, payload []byte) error {
	return n.record(Call{Method: "ProcessData", Args: []string{clientID, string(payload)}})
}

func (n *Notifier) SendMessageToDevice(_ context.Context, target string, message json.RawMessage) error {
	return n.record(Call{Method: "SendMessageToDevice", Args: []string{target, string(message)}})
}

func (n *Notifier) SendMessageToGroup(_ context.Context, target string, message json.RawMessage) error {
	return n.record(Call{Method: "SendMessageToGroup", Args: []string{target, string(message)}})
}

func (n *Notifier) SendMessageResponse(_ context.Context, messageID, status string) error {
	return n.record(Call{Method: "SendMessageResponse", Args: []string{messageID, status}})
}

func (n *Notifier) NotifyConnection(_ context.Context, clientID string) error {
	return n.record(Call{Method: "NotifyConnection", Args: []string{clientID}})
}

func (n *Notifier) NotifyDisconnection(_ context.Context, clientID string) error {
	return n.record(Call{Method: "NotifyDisconnection", Args: []string{clientID}})
}

func (n *Notifier) NotifyReady(_ context.Context) error {
	return n.record(Call{Method: "NotifyReady"})
}

func (n *Notifier) NotifyClose(_ context.Context) error {
	return n.record(Call{Method: "NotifyClose"})
}

func (n *Notifier) Log(_ context.Context, rec platform.Record) error {
	return n.record(Call{Method: "Log", Record: rec})
}

func (n *Notifier) HandleException(_ context.Context, err error) error {
	return n.record(Call{Method: "HandleException", Err: err})
}
