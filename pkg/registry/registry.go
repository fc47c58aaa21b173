// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the set of devices that are currently authorized.
package registry

import (
	"sync"

	"github.com/absmach/dgate/pkg/errors"
)

// Device is a membership witness for an authorized client identity.
type Device struct {
	ID string `json:"id" yaml:"id"`
}

// Registry maps device identities to devices.
//
// Mutations are expected to arrive serially from the platform event loop.
// Lookups come from connection goroutines, hence the read lock.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		devices: make(map[string]Device),
	}
}

// Initialize replaces the registry contents with the given snapshot.
// Records without an identity are skipped. It returns the number of
// devices held after the replace.
func (r *Registry) Initialize(devices []Device) int {
	snapshot := make(map[string]Device, len(devices))
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		snapshot[d.ID] = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = snapshot

	return len(snapshot)
}

// Add inserts or overwrites a device.
func (r *Registry) Add(d *Device) error {
	if d == nil || d.ID == "" {
		return errors.New("adddevice", "", "", errors.ErrMalformedDevice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID] = *d

	return nil
}

// Remove deletes a device. Removing an unknown device is not an error.
func (r *Registry) Remove(d *Device) error {
	if d == nil || d.ID == "" {
		return errors.New("removedevice", "", "", errors.ErrMalformedDevice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, d.ID)

	return nil
}

// IsAuthorized reports whether id belongs to a registered device.
func (r *Registry) IsAuthorized(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.devices[id]
	return ok
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices)
}
