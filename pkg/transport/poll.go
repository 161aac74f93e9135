// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// PollOptions configure the poll-based MemoryAdapter and StoreAdapter.
type PollOptions struct {
	// Interval between two polls. This is the latency bound of incoming Envelopes.
	Interval time.Duration

	// Batch limits the Envelopes fetched per topic and poll.
	Batch int

	// MaxFailures is the number of consecutive failed polls after which the Adapter reports itself as broken.
	MaxFailures int
}

// DefaultPollOptions are used for zero fields of PollOptions.
var DefaultPollOptions = PollOptions{
	Interval:    500 * time.Millisecond,
	Batch:       100,
	MaxFailures: 3,
}

func (opts PollOptions) withDefaults() PollOptions {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollOptions.Interval
	}
	if opts.Batch <= 0 {
		opts.Batch = DefaultPollOptions.Batch
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultPollOptions.MaxFailures
	}
	return opts
}

// cursorEnvelope is an Envelope read from a backend at some cursor.
type cursorEnvelope struct {
	cursor int64
	env    envelope.Envelope
}

// backend is the storage behind a poller.
type backend interface {
	open(ctx context.Context) error
	close() error
	write(ctx context.Context, e envelope.Envelope) error
	since(ctx context.Context, topic string, cursor int64, limit int) ([]cursorEnvelope, error)
	latest(ctx context.Context, topic string, limit int) ([]cursorEnvelope, error)
}

// headBackend is a backend able to report a topic's head cursor without fetching its latest Envelope.
type headBackend interface {
	head(ctx context.Context, topic string) (int64, error)
}

// unknownCursor marks a topic whose cursor must be set to the backend's head first.
const unknownCursor int64 = -1

// poller implements an Adapter on top of a backend by periodically polling for new Envelopes.
type poller struct {
	kind    Kind
	address string
	backend backend
	opts    PollOptions

	receivers *receivers

	mutex     sync.Mutex
	connected bool
	cursors   map[string]int64
	failure   func(error)

	stopSyn chan struct{}
	stopAck chan struct{}
}

func newPoller(kind Kind, address string, b backend, opts PollOptions) *poller {
	return &poller{
		kind:      kind,
		address:   address,
		backend:   b,
		opts:      opts.withDefaults(),
		receivers: newReceivers(),
		cursors:   make(map[string]int64),
	}
}

func (p *poller) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"transport": p.kind,
		"address":   p.address,
	})
}

// Kind of this Adapter.
func (p *poller) Kind() Kind {
	return p.kind
}

// Address of this Adapter.
func (p *poller) Address() string {
	return p.address
}

func (p *poller) onFailure(f func(error)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.failure = f
}

func (p *poller) isConnected() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.connected
}

// Connect opens the backend and starts polling.
func (p *poller) Connect(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.connected {
		return nil
	}

	if err := p.backend.open(ctx); err != nil {
		return newError(p.kind, p.address, "connect", err)
	}

	p.connected = true
	p.stopSyn = make(chan struct{})
	p.stopAck = make(chan struct{})

	go p.loop(p.stopSyn, p.stopAck)

	p.logger().Debug("Poll based transport connected")
	return nil
}

// Close stops polling and closes the backend.
func (p *poller) Close() error {
	p.mutex.Lock()
	if !p.connected {
		p.mutex.Unlock()
		return nil
	}

	p.connected = false
	stopSyn, stopAck := p.stopSyn, p.stopAck
	p.stopSyn, p.stopAck = nil, nil
	p.mutex.Unlock()

	close(stopSyn)
	<-stopAck

	p.logger().Debug("Poll based transport closed")
	return p.backend.close()
}

// fail marks this Adapter as broken from within the loop, identified by its stopSyn channel.
func (p *poller) fail(stopSyn chan struct{}, err error) {
	p.mutex.Lock()
	if !p.connected || p.stopSyn != stopSyn {
		p.mutex.Unlock()
		return
	}

	p.connected = false
	p.stopSyn, p.stopAck = nil, nil
	failure := p.failure
	p.mutex.Unlock()

	p.logger().WithError(err).Warn("Poll based transport failed repeatedly, giving up")

	if closeErr := p.backend.close(); closeErr != nil {
		p.logger().WithError(closeErr).Debug("Closing failed backend errored")
	}

	if failure != nil {
		go failure(newError(p.kind, p.address, "poll", err))
	}
}

func (p *poller) loop(stopSyn, stopAck chan struct{}) {
	defer close(stopAck)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	failures := 0

	for {
		select {
		case <-stopSyn:
			return

		case <-ticker.C:
			if err := p.poll(stopSyn); err != nil {
				failures++
				p.logger().WithError(err).WithField("failures", failures).Info("Polling errored")

				if failures >= p.opts.MaxFailures {
					p.fail(stopSyn, err)
					return
				}
			} else {
				failures = 0
			}
		}
	}
}

func (p *poller) timeout() time.Duration {
	if t := 4 * p.opts.Interval; t > 2*time.Second {
		return t
	}
	return 2 * time.Second
}

// head determines the cursor of a topic's latest Envelope.
func (p *poller) head(ctx context.Context, topic string) (int64, error) {
	if hb, ok := p.backend.(headBackend); ok {
		return hb.head(ctx, topic)
	}

	if ces, err := p.backend.latest(ctx, topic, 1); err != nil {
		return unknownCursor, err
	} else if len(ces) == 0 {
		return 0, nil
	} else {
		return ces[len(ces)-1].cursor, nil
	}
}

// poll all subscribed topics once and deliver new Envelopes in their stored order.
func (p *poller) poll(stopSyn chan struct{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout())
	defer cancel()

	for _, topic := range p.receivers.list() {
		select {
		case <-stopSyn:
			return nil
		default:
		}

		p.mutex.Lock()
		cursor, ok := p.cursors[topic]
		p.mutex.Unlock()

		if !ok || cursor == unknownCursor {
			head, err := p.head(ctx, topic)
			if err != nil {
				return err
			}
			p.setCursor(topic, unknownCursor, head)
			continue
		}

		ces, err := p.backend.since(ctx, topic, cursor, p.opts.Batch)
		if err != nil {
			return err
		}

		next := cursor
		for _, ce := range ces {
			p.receivers.deliver(ce.env)
			if ce.cursor > next {
				next = ce.cursor
			}
		}
		p.setCursor(topic, cursor, next)
	}
	return nil
}

// setCursor updates a topic's cursor, if it was not altered in the meantime.
func (p *poller) setCursor(topic string, old, cursor int64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if c, ok := p.cursors[topic]; (ok && c == old) || (!ok && old == unknownCursor && p.receivers.has(topic)) {
		p.cursors[topic] = cursor
	}
}

// Send writes an Envelope to the backend.
func (p *poller) Send(ctx context.Context, e envelope.Envelope) (Ack, error) {
	if !p.isConnected() {
		return Ack{}, newError(p.kind, p.address, "send", ErrNotConnected)
	}

	if err := p.backend.write(ctx, e); err != nil {
		return Ack{}, newError(p.kind, p.address, "send", err)
	}

	return Ack{ID: e.ID, Kind: p.kind, Address: p.address, At: time.Now()}, nil
}

// Subscribe a Receiver to a topic. Only Envelopes stored afterwards are delivered.
func (p *poller) Subscribe(topic string, r Receiver) (*Subscription, error) {
	id, first := p.receivers.add(topic, r)

	if first {
		cursor := unknownCursor
		if p.isConnected() {
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout())
			if head, err := p.head(ctx, topic); err != nil {
				p.logger().WithError(err).WithField("topic", topic).Debug("Fetching topic head errored")
			} else {
				cursor = head
			}
			cancel()
		}

		p.mutex.Lock()
		if _, ok := p.cursors[topic]; !ok {
			p.cursors[topic] = cursor
		}
		p.mutex.Unlock()
	}

	return newSubscription(topic, func() {
		if p.receivers.remove(topic, id) {
			p.mutex.Lock()
			delete(p.cursors, topic)
			p.mutex.Unlock()
		}
	}), nil
}

// PollHistory fetches the latest Envelopes of a topic.
func (p *poller) PollHistory(ctx context.Context, topic string, limit int) ([]envelope.Envelope, error) {
	if !p.isConnected() {
		return nil, newError(p.kind, p.address, "history", ErrNotConnected)
	}

	ces, err := p.backend.latest(ctx, topic, limit)
	if err != nil {
		return nil, newError(p.kind, p.address, "history", err)
	}

	envs := make([]envelope.Envelope, len(ces))
	for i, ce := range ces {
		envs[i] = ce.env
	}
	return envs, nil
}
