// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package nats connects dgate to a management plane over NATS. Control
// events are received on <prefix>.control.<event> through a single
// subscription, which keeps them in publish order. Notifications are
// published as JSON to <prefix>.events.<name>.
package nats
