// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"sort"
	"strings"
)

// Default system topic names.
const (
	DefaultDataTopic         = "data"
	DefaultMessageTopic      = "message"
	DefaultGroupMessageTopic = "groupmessage"
)

// Topics names the three system channels.
type Topics struct {
	Data         string
	Message      string
	GroupMessage string
}

// WithDefaults fills empty topic names with their defaults.
func (t Topics) WithDefaults() Topics {
	if t.Data == "" {
		t.Data = DefaultDataTopic
	}
	if t.Message == "" {
		t.Message = DefaultMessageTopic
	}
	if t.GroupMessage == "" {
		t.GroupMessage = DefaultGroupMessageTopic
	}
	return t
}

// TopicSet is the immutable set of topics any client may use.
type TopicSet struct {
	topics map[string]struct{}
}

// NewTopicSet builds the authorized topic set from the system topics and
// the operator supplied shared topics.
func NewTopicSet(system Topics, shared ...string) TopicSet {
	system = system.WithDefaults()

	set := TopicSet{topics: make(map[string]struct{})}
	for _, t := range append([]string{system.Data, system.Message, system.GroupMessage}, shared...) {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		set.topics[t] = struct{}{}
	}

	return set
}

// ParseShared splits a comma-separated topic list.
func ParseShared(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}

	var topics []string
	for _, t := range strings.Split(list, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	return topics
}

// Contains reports whether topic is in the set.
func (s TopicSet) Contains(topic string) bool {
	_, ok := s.topics[topic]
	return ok
}

// List returns the topics in lexical order.
func (s TopicSet) List() []string {
	list := make([]string, 0, len(s.topics))
	for t := range s.topics {
		list = append(list, t)
	}
	sort.Strings(list)

	return list
}

// Len returns the number of topics in the set.
func (s TopicSet) Len() int {
	return len(s.topics)
}
