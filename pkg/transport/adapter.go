// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// Kind of an Adapter. A lower Kind has a higher priority.
type Kind int

const (
	SocketChannel Kind = iota
	MemoryService
	DurableStore
)

// Kinds lists all Kinds by their priority.
var Kinds = []Kind{SocketChannel, MemoryService, DurableStore}

func (k Kind) String() string {
	switch k {
	case SocketChannel:
		return "socket"
	case MemoryService:
		return "memory"
	case DurableStore:
		return "store"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind reads a Kind from its name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown transport kind %q", s)
}

// MarshalText encodes a Kind by its name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a Kind from its name.
func (k *Kind) UnmarshalText(text []byte) (err error) {
	*k, err = ParseKind(string(text))
	return
}

// Ack confirms that an Adapter has accepted an Envelope.
type Ack struct {
	ID      string
	Kind    Kind
	Address string
	At      time.Time
}

// Receiver is called for each incoming Envelope of a subscribed topic. Receivers of one Adapter are called
// sequentially and must not block.
type Receiver func(e envelope.Envelope)

// Adapter is one of SocketAdapter, MemoryAdapter or StoreAdapter.
type Adapter interface {
	// Kind of this Adapter, which also determines its priority.
	Kind() Kind

	// Address describes the Adapter's remote or local endpoint.
	Address() string

	// Connect this Adapter. Connect may be called again after Close.
	Connect(ctx context.Context) error

	// Send an Envelope and wait for its acknowledgement.
	Send(ctx context.Context, e envelope.Envelope) (Ack, error)

	// Subscribe a Receiver to a topic. Subscriptions survive reconnects.
	Subscribe(topic string, r Receiver) (*Subscription, error)

	// PollHistory fetches up to limit latest Envelopes of a topic, oldest first.
	PollHistory(ctx context.Context, topic string, limit int) ([]envelope.Envelope, error)

	// Close this Adapter's connection.
	Close() error

	// onFailure registers a callback for a broken connection, detected outside of Send.
	onFailure(f func(err error))
}

// Subscription of a Receiver to a topic, returned by Adapter.Subscribe.
type Subscription struct {
	topic string
	once  sync.Once
	stop  func()
}

func newSubscription(topic string, stop func()) *Subscription {
	return &Subscription{topic: topic, stop: stop}
}

// Topic of this Subscription.
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe the Receiver. Further calls are ignored.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.stop)
}

// receivers manages the Receivers per topic of an Adapter.
type receivers struct {
	mutex  sync.Mutex
	nextId uint64
	topics map[string]map[uint64]Receiver
}

func newReceivers() *receivers {
	return &receivers{topics: make(map[string]map[uint64]Receiver)}
}

// add a Receiver and report if it is the topic's first one.
func (rs *receivers) add(topic string, r Receiver) (id uint64, first bool) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	rs.nextId++
	id = rs.nextId

	if _, ok := rs.topics[topic]; !ok {
		rs.topics[topic] = make(map[uint64]Receiver)
		first = true
	}
	rs.topics[topic][id] = r
	return
}

// remove a Receiver and report if it was the topic's last one.
func (rs *receivers) remove(topic string, id uint64) (last bool) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if m, ok := rs.topics[topic]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(rs.topics, topic)
			last = true
		}
	}
	return
}

// list all currently subscribed topics.
func (rs *receivers) list() (topics []string) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	for topic := range rs.topics {
		topics = append(topics, topic)
	}
	return
}

// has checks if a topic has Receivers.
func (rs *receivers) has(topic string) bool {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	_, ok := rs.topics[topic]
	return ok
}

// deliver an Envelope to all Receivers of its topic.
func (rs *receivers) deliver(e envelope.Envelope) {
	rs.mutex.Lock()
	var targets []Receiver
	for _, r := range rs.topics[e.Topic] {
		targets = append(targets, r)
	}
	rs.mutex.Unlock()

	for _, r := range targets {
		r(e)
	}
}
