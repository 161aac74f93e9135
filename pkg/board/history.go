// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package board

import (
	"sync"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// History records the Envelopes per topic. The storage.Store implements a persistent History.
type History interface {
	// Append an Envelope to its topic. Known Envelope IDs must be ignored.
	Append(e envelope.Envelope) error

	// History returns up to limit latest Envelopes of a topic, oldest first.
	History(topic string, limit int) ([]envelope.Envelope, error)

	// Trim a topic to its keep latest Envelopes.
	Trim(topic string, keep int) error
}

// MemoryHistory is a volatile History, bounded per topic.
type MemoryHistory struct {
	depth int

	mutex  sync.Mutex
	topics map[string][]envelope.Envelope
}

// NewMemoryHistory keeping at most depth Envelopes per topic.
func NewMemoryHistory(depth int) *MemoryHistory {
	return &MemoryHistory{
		depth:  depth,
		topics: make(map[string][]envelope.Envelope),
	}
}

// Append an Envelope, dropping the topic's oldest Envelope if necessary.
func (mh *MemoryHistory) Append(e envelope.Envelope) error {
	mh.mutex.Lock()
	defer mh.mutex.Unlock()

	envs := mh.topics[e.Topic]
	for _, known := range envs {
		if known.ID == e.ID {
			return nil
		}
	}

	envs = append(envs, e)
	if mh.depth > 0 && len(envs) > mh.depth {
		envs = envs[len(envs)-mh.depth:]
	}
	mh.topics[e.Topic] = envs
	return nil
}

// History of a topic.
func (mh *MemoryHistory) History(topic string, limit int) ([]envelope.Envelope, error) {
	mh.mutex.Lock()
	defer mh.mutex.Unlock()

	envs := mh.topics[topic]
	if limit > 0 && len(envs) > limit {
		envs = envs[len(envs)-limit:]
	}

	out := make([]envelope.Envelope, len(envs))
	copy(out, envs)
	return out, nil
}

// Trim a topic.
func (mh *MemoryHistory) Trim(topic string, keep int) error {
	mh.mutex.Lock()
	defer mh.mutex.Unlock()

	if envs := mh.topics[topic]; len(envs) > keep {
		mh.topics[topic] = append([]envelope.Envelope(nil), envs[len(envs)-keep:]...)
	}
	return nil
}
