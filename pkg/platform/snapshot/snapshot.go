// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package snapshot provides a platform.Source for deployments without a
// management plane. It reads the authorized devices from a YAML file and
// emits a single ready event.
//
// File format:
//
//	options:
//	  sharedTopics: alerts,status
//	devices:
//	  - id: dev1
//	  - id: dev2
package snapshot

import (
	"context"
	"fmt"
	"os"

	"github.com/absmach/dgate/pkg/platform"
	"github.com/absmach/dgate/pkg/registry"
	"gopkg.in/yaml.v3"
)

var _ platform.Source = (*Source)(nil)

// File is the layout of a snapshot file.
type File struct {
	Options platform.Options  `yaml:"options"`
	Devices []registry.Device `yaml:"devices"`
}

// Source emits one ready event built from the configured options and the
// snapshot file.
type Source struct {
	path    string
	options platform.Options
}

// NewSource creates a snapshot source. An empty path starts with no devices.
func NewSource(path string, options platform.Options) *Source {
	return &Source{
		path:    path,
		options: options,
	}
}

// Load reads the snapshot file. Options set in the file take precedence over
// the configured ones.
func (s *Source) Load() (File, error) {
	f := File{Options: s.options}
	if s.path == "" {
		return f, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return File{}, fmt.Errorf("reading devices file: %w", err)
	}

	var parsed File
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return File{}, fmt.Errorf("parsing devices file: %w", err)
	}

	f.Options = parsed.Options.WithDefaults(s.options)
	f.Devices = parsed.Devices

	return f, nil
}

// Subscribe loads the snapshot and returns a channel carrying its ready
// event. The channel is closed once ctx is done.
func (s *Source) Subscribe(ctx context.Context) (<-chan platform.Event, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}

	events := make(chan platform.Event, 1)
	events <- platform.Event{
		Type:    platform.EventReady,
		Options: f.Options,
		Devices: f.Devices,
	}

	go func() {
		<-ctx.Done()
		close(events)
	}()

	return events, nil
}
