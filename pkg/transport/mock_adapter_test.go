// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// mockAdapter is an Adapter whose reachability can be switched.
type mockAdapter struct {
	kind Kind
	name string

	mutex     sync.Mutex
	reachable bool
	connected bool
	connects  int
	sent      []envelope.Envelope
	failure   func(error)

	receivers *receivers
}

func newMockAdapter(kind Kind, name string, reachable bool) *mockAdapter {
	return &mockAdapter{
		kind:      kind,
		name:      name,
		reachable: reachable,
		receivers: newReceivers(),
	}
}

func (m *mockAdapter) Kind() Kind      { return m.kind }
func (m *mockAdapter) Address() string { return m.name }

func (m *mockAdapter) setReachable(reachable bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.reachable = reachable
}

func (m *mockAdapter) isConnected() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.connected
}

func (m *mockAdapter) connectCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.connects
}

func (m *mockAdapter) Connect(_ context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.connects++
	if !m.reachable {
		return newError(m.kind, m.name, "connect", errors.New("unreachable"))
	}
	m.connected = true
	return nil
}

func (m *mockAdapter) Send(_ context.Context, e envelope.Envelope) (Ack, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.connected || !m.reachable {
		return Ack{}, newError(m.kind, m.name, "send", ErrNotConnected)
	}
	m.sent = append(m.sent, e)
	return Ack{ID: e.ID, Kind: m.kind, Address: m.name, At: time.Now()}, nil
}

func (m *mockAdapter) Subscribe(topic string, r Receiver) (*Subscription, error) {
	id, _ := m.receivers.add(topic, r)
	return newSubscription(topic, func() { m.receivers.remove(topic, id) }), nil
}

func (m *mockAdapter) PollHistory(_ context.Context, _ string, _ int) ([]envelope.Envelope, error) {
	return nil, nil
}

func (m *mockAdapter) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.connected = false
	return nil
}

func (m *mockAdapter) onFailure(f func(error)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.failure = f
}

// fail simulates a connection loss detected by the Adapter itself.
func (m *mockAdapter) fail() {
	m.mutex.Lock()
	m.reachable = false
	m.connected = false
	failure := m.failure
	m.mutex.Unlock()

	if failure != nil {
		failure(newError(m.kind, m.name, "receive", errors.New("connection lost")))
	}
}
