// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package messenger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/transport"
)

var (
	// ErrNotStarted is returned for sends before Start.
	ErrNotStarted = errors.New("messenger is not started")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("messenger is closed")
)

// Options configure a Messenger.
type Options struct {
	// HistoryDepth is the number of Envelopes kept and replayed per topic.
	HistoryDepth int

	// DedupWindow is the number of Envelope IDs each Subscription remembers.
	DedupWindow int

	// SendQueue is the capacity of the outbox.
	SendQueue int
}

// DefaultOptions for a Messenger.
var DefaultOptions = Options{
	HistoryDepth: 10,
	DedupWindow:  1024,
	SendQueue:    256,
}

func (opts Options) withDefaults() Options {
	if opts.HistoryDepth <= 0 {
		opts.HistoryDepth = DefaultOptions.HistoryDepth
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultOptions.DedupWindow
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultOptions.SendQueue
	}
	return opts
}

type outgoing struct {
	ctx    context.Context
	e      envelope.Envelope
	result chan error
}

// Messenger publishes and subscribes Envelopes through the current Adapter of a Selector.
type Messenger struct {
	selector *transport.Selector
	agentID  string
	opts     Options

	outbox  chan outgoing
	stopSyn chan struct{}
	stopAck chan struct{}

	stateMutex sync.Mutex
	started    bool
	closed     bool
	listenOnce sync.Once

	// mutex guards history and subscribers.
	mutex       sync.Mutex
	history     map[string][]envelope.Envelope
	subscribers map[string]map[uint64]*Subscription
	nextSubId   uint64

	// bindMutex guards the Adapter binding and must not be acquired while holding mutex.
	bindMutex   sync.Mutex
	bound       transport.Adapter
	adapterSubs map[string]*transport.Subscription
}

// New creates a Messenger for an agent. The Messenger must be started before sending.
func New(selector *transport.Selector, agentID string, opts Options) *Messenger {
	opts = opts.withDefaults()

	return &Messenger{
		selector:    selector,
		agentID:     agentID,
		opts:        opts,
		outbox:      make(chan outgoing, opts.SendQueue),
		stopSyn:     make(chan struct{}),
		stopAck:     make(chan struct{}),
		history:     make(map[string][]envelope.Envelope),
		subscribers: make(map[string]map[uint64]*Subscription),
		adapterSubs: make(map[string]*transport.Subscription),
	}
}

func (m *Messenger) String() string {
	return fmt.Sprintf("Messenger(%s)", m.agentID)
}

// AgentID of this Messenger's owner.
func (m *Messenger) AgentID() string {
	return m.agentID
}

// Start selects the initial Adapter and starts the outbox. An ErrNoTransportAvailable indicates a misconfiguration.
func (m *Messenger) Start(ctx context.Context) error {
	m.stateMutex.Lock()
	closed, started := m.closed, m.started
	m.stateMutex.Unlock()

	if closed {
		return ErrClosed
	} else if started {
		return nil
	}

	m.listenOnce.Do(func() {
		m.selector.OnSwitch(func(_, next transport.Adapter) {
			if !m.isClosed() {
				m.bind(next)
			}
		})
	})

	a, err := m.selector.Current(ctx)
	if err != nil {
		return err
	}
	m.bind(a)

	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()

	if m.closed {
		return ErrClosed
	} else if m.started {
		return nil
	}

	m.started = true
	go m.handleOutbox()

	log.WithFields(log.Fields{
		"messenger": m,
		"transport": a.Kind(),
		"address":   a.Address(),
	}).Info("Messenger started")
	return nil
}

func (m *Messenger) isClosed() bool {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()

	return m.closed
}

// Close the Messenger and all its Subscriptions. The Selector is not closed.
func (m *Messenger) Close() error {
	m.stateMutex.Lock()
	if m.closed {
		m.stateMutex.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.stateMutex.Unlock()

	if started {
		close(m.stopSyn)
		<-m.stopAck
	}

	m.mutex.Lock()
	var subs []*Subscription
	for _, topicSubs := range m.subscribers {
		for _, sub := range topicSubs {
			subs = append(subs, sub)
		}
	}
	m.mutex.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	m.bind(nil)
	return nil
}

// Transport returns the Kind of the currently bound Adapter.
func (m *Messenger) Transport() (kind transport.Kind, ok bool) {
	m.bindMutex.Lock()
	defer m.bindMutex.Unlock()

	if m.bound == nil {
		return
	}
	return m.bound.Kind(), true
}

// bind all topic subscriptions to a new Adapter, which might be nil.
func (m *Messenger) bind(a transport.Adapter) {
	m.bindMutex.Lock()
	defer m.bindMutex.Unlock()

	if m.bound == a {
		return
	}

	for topic, as := range m.adapterSubs {
		as.Unsubscribe()
		delete(m.adapterSubs, topic)
	}

	m.bound = a
	if a == nil {
		return
	}

	logger := log.WithFields(log.Fields{
		"messenger": m,
		"transport": a.Kind(),
		"address":   a.Address(),
	})

	for _, topic := range m.topics() {
		if err := m.bindTopic(topic); err != nil {
			logger.WithError(err).WithField("topic", topic).Warn("Binding topic to transport errored")
		}
	}
	logger.Debug("Messenger bound subscriptions to transport")
}

// bindTopic subscribes the bound Adapter to a topic. The caller must hold the bindMutex.
func (m *Messenger) bindTopic(topic string) error {
	if m.bound == nil {
		return nil
	}
	if _, ok := m.adapterSubs[topic]; ok {
		return nil
	}

	as, err := m.bound.Subscribe(topic, m.receive)
	if err != nil {
		return err
	}
	m.adapterSubs[topic] = as
	return nil
}

func (m *Messenger) topics() (topics []string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for topic := range m.subscribers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return
}

// remember an Envelope in its topic's bounded history. Known IDs are ignored.
func (m *Messenger) remember(e envelope.Envelope) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.rememberLocked(e)
}

func (m *Messenger) rememberLocked(e envelope.Envelope) bool {
	hist := m.history[e.Topic]
	for _, known := range hist {
		if known.ID == e.ID {
			return false
		}
	}

	hist = append(hist, e)
	if len(hist) > m.opts.HistoryDepth {
		hist = hist[len(hist)-m.opts.HistoryDepth:]
	}
	m.history[e.Topic] = hist
	return true
}

// receive an Envelope from the bound Adapter.
func (m *Messenger) receive(e envelope.Envelope) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.rememberLocked(e)
	for _, sub := range m.subscribers[e.Topic] {
		sub.offer(e)
	}
}

// History returns the locally known latest Envelopes of a topic, oldest first.
func (m *Messenger) History(topic string) []envelope.Envelope {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	hist := make([]envelope.Envelope, len(m.history[topic]))
	copy(hist, m.history[topic])
	return hist
}

// Subscribe a Sink to a topic. The latest Envelopes of the topic are replayed first, live Envelopes follow.
func (m *Messenger) Subscribe(ctx context.Context, topic, subscriberID string, sink Sink) (*Subscription, error) {
	if topic == "" {
		topic = envelope.DefaultTopic
	}

	if m.isClosed() {
		return nil, ErrClosed
	}

	m.mutex.Lock()
	m.nextSubId++
	id := m.nextSubId
	m.mutex.Unlock()

	sub, err := newSubscription(id, topic, subscriberID, sink, m.opts.DedupWindow)
	if err != nil {
		return nil, err
	}
	sub.unsubscribe = m.unsubscribe

	logger := log.WithFields(log.Fields{
		"messenger":  m,
		"topic":      topic,
		"subscriber": subscriberID,
	})

	m.bindMutex.Lock()
	m.mutex.Lock()
	if _, ok := m.subscribers[topic]; !ok {
		m.subscribers[topic] = make(map[uint64]*Subscription)
	}
	m.subscribers[topic][id] = sub
	m.mutex.Unlock()

	bindErr := m.bindTopic(topic)
	bound := m.bound
	m.bindMutex.Unlock()

	if bindErr != nil {
		logger.WithError(bindErr).Warn("Subscribing at transport errored")
	}

	sub.replay(m.replayHistory(ctx, bound, topic))
	logger.WithField("replayed", sub.Replayed()).Debug("Subscription started")

	return sub, nil
}

// replayHistory merges the local history with the Adapter's history.
func (m *Messenger) replayHistory(ctx context.Context, a transport.Adapter, topic string) []envelope.Envelope {
	envs := m.History(topic)

	if a != nil {
		if remote, err := a.PollHistory(ctx, topic, m.opts.HistoryDepth); err != nil {
			log.WithFields(log.Fields{
				"messenger": m,
				"topic":     topic,
				"transport": a.Kind(),
			}).WithError(err).Info("Fetching transport history errored, replaying local history only")
		} else {
			envs = append(envs, remote...)
		}
	}

	return mergeHistory(envs, m.opts.HistoryDepth)
}

// mergeHistory removes duplicate IDs, orders by creation and keeps the latest depth Envelopes.
func mergeHistory(envs []envelope.Envelope, depth int) []envelope.Envelope {
	known := make(map[string]struct{}, len(envs))
	merged := make([]envelope.Envelope, 0, len(envs))
	for _, e := range envs {
		if _, ok := known[e.ID]; ok {
			continue
		}
		known[e.ID] = struct{}{}
		merged = append(merged, e)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].CreatedAt.Before(merged[j].CreatedAt) })

	if len(merged) > depth {
		merged = merged[len(merged)-depth:]
	}
	return merged
}

func (m *Messenger) unsubscribe(sub *Subscription) {
	m.bindMutex.Lock()
	defer m.bindMutex.Unlock()

	m.mutex.Lock()
	last := false
	if topicSubs, ok := m.subscribers[sub.topic]; ok {
		delete(topicSubs, sub.id)
		if len(topicSubs) == 0 {
			delete(m.subscribers, sub.topic)
			last = true
		}
	}
	m.mutex.Unlock()

	if as, ok := m.adapterSubs[sub.topic]; ok && last {
		as.Unsubscribe()
		delete(m.adapterSubs, sub.topic)
	}

	log.WithFields(log.Fields{
		"messenger":  m,
		"topic":      sub.topic,
		"subscriber": sub.subscriberID,
	}).Debug("Subscription stopped")
}

// Publish a new Envelope from this Messenger's agent and return its ID.
func (m *Messenger) Publish(ctx context.Context, topic, content string, opts ...envelope.Option) (string, error) {
	return m.Send(ctx, envelope.New(topic, m.agentID, content, opts...))
}

// Send a prebuilt Envelope through the outbox and wait until a transport acknowledged it.
func (m *Messenger) Send(ctx context.Context, e envelope.Envelope) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	m.stateMutex.Lock()
	started, closed := m.started, m.closed
	m.stateMutex.Unlock()

	if closed {
		return "", ErrClosed
	} else if !started {
		return "", ErrNotStarted
	}

	out := outgoing{ctx: ctx, e: e, result: make(chan error, 1)}

	select {
	case m.outbox <- out:
	case <-m.stopSyn:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case err := <-out.result:
		if err != nil {
			return "", err
		}
		return e.ID, nil
	case <-m.stopSyn:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Messenger) handleOutbox() {
	defer close(m.stopAck)

	for {
		select {
		case <-m.stopSyn:
			return

		case out := <-m.outbox:
			out.result <- m.deliver(out.ctx, out.e)
		}
	}
}

// deliver an Envelope through the current Adapter, failing over on transport errors.
func (m *Messenger) deliver(ctx context.Context, e envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logger := log.WithFields(log.Fields{
		"messenger": m,
		"envelope":  e.ID,
		"topic":     e.Topic,
	})

	a, err := m.selector.Current(ctx)
	if err != nil {
		logger.WithError(err).Error("No transport available to send Envelope")
		return err
	}

	for attempt := 0; attempt <= len(m.selector.Adapters()); attempt++ {
		ack, sendErr := a.Send(ctx, e)
		if sendErr == nil {
			m.remember(e)
			logger.WithFields(log.Fields{
				"transport": ack.Kind,
				"address":   ack.Address,
			}).Debug("Envelope was acknowledged")
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		logger.WithError(sendErr).WithField("transport", a.Kind()).Warn("Sending Envelope failed, failing over")

		next, foErr := m.selector.Failover(ctx, a)
		if foErr != nil {
			logger.WithError(foErr).Error("Failover exhausted all transports")
			return foErr
		}

		m.bind(next)
		a = next
	}

	return fmt.Errorf("%w: send of %s kept failing", transport.ErrNoTransportAvailable, e.ID)
}
