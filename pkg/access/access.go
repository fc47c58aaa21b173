// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package access decides which clients may connect, publish, subscribe
// and receive forwarded messages.
package access

import (
	"crypto/subtle"

	"github.com/absmach/dgate/pkg/registry"
)

// Operation names an access decision.
type Operation string

const (
	Connect   Operation = "connect"
	Publish   Operation = "publish"
	Subscribe Operation = "subscribe"
	Forward   Operation = "forward"
)

// Control evaluates topic access against the device registry and the
// authorized topic set. All decisions are pure reads.
type Control struct {
	registry *registry.Registry
	topics   TopicSet
}

// NewControl creates a Control.
func NewControl(r *registry.Registry, topics TopicSet) *Control {
	return &Control{
		registry: r,
		topics:   topics,
	}
}

// AuthorizePublish permits registered devices, a device publishing to its
// own identity topic, and any client publishing to an authorized topic.
func (c *Control) AuthorizePublish(clientID, topic string) bool {
	return c.allowTopic(clientID, topic)
}

// AuthorizeSubscribe uses the same predicate as AuthorizePublish.
func (c *Control) AuthorizeSubscribe(clientID, topic string) bool {
	return c.allowTopic(clientID, topic)
}

// AuthorizeForward permits only registered devices to receive forwarded
// messages. Own-topic and shared-topic exceptions do not apply.
func (c *Control) AuthorizeForward(clientID string) bool {
	return c.registry.IsAuthorized(clientID)
}

func (c *Control) allowTopic(clientID, topic string) bool {
	if topic == clientID {
		return true
	}
	if c.topics.Contains(topic) {
		return true
	}
	return c.registry.IsAuthorized(clientID)
}

// Authenticator checks basic-auth credentials on connect.
// It is disabled when either the username or the password is empty.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(username, password string) Authenticator {
	return Authenticator{
		username: username,
		password: password,
	}
}

// Enabled reports whether credentials are enforced.
func (a Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// Authenticate reports whether the credentials match.
func (a Authenticator) Authenticate(username string, password []byte) bool {
	if !a.Enabled() {
		return true
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare(password, []byte(a.password)) == 1

	return userOK && passOK
}
