// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package board

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/wire"
)

// Options configure a Board.
type Options struct {
	// HistoryDepth bounds each topic's History.
	HistoryDepth int

	// ReplayLimit is used for History requests without an explicit limit.
	ReplayLimit int

	// History backend; a MemoryHistory is used if unset.
	History History

	// RegisterTimeout bounds the wait for a client's registration.
	RegisterTimeout time.Duration

	// WriteTimeout bounds writing a frame to a client.
	WriteTimeout time.Duration

	// ReadLimit bounds the size of a client's frame; larger frames close the connection.
	ReadLimit int64

	// OutboxSize bounds the messages queued for a client. A client falling further behind is closed.
	OutboxSize int
}

// DefaultOptions are used for zero fields of Options.
var DefaultOptions = Options{
	HistoryDepth:    100,
	ReplayLimit:     10,
	RegisterTimeout: 10 * time.Second,
	WriteTimeout:    5 * time.Second,
	ReadLimit:       wire.MaxFrameSize,
	OutboxSize:      256,
}

// Board relays Envelopes between WebSocket clients. Its ServeHTTP method must be bound to an HTTP endpoint.
type Board struct {
	opts     Options
	upgrader websocket.Upgrader

	// publishMutex orders History appends and outbox queueing; it is never held while writing to a connection.
	publishMutex sync.Mutex

	mutex   sync.RWMutex
	clients map[string]*client
	topics  map[string]map[*client]struct{}
}

// New creates a Board.
func New(opts Options) *Board {
	if opts.HistoryDepth <= 0 {
		opts.HistoryDepth = DefaultOptions.HistoryDepth
	}
	if opts.ReplayLimit <= 0 {
		opts.ReplayLimit = DefaultOptions.ReplayLimit
	}
	if opts.RegisterTimeout <= 0 {
		opts.RegisterTimeout = DefaultOptions.RegisterTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions.WriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultOptions.ReadLimit
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = DefaultOptions.OutboxSize
	}
	if opts.History == nil {
		opts.History = NewMemoryHistory(opts.HistoryDepth)
	}

	return &Board{
		opts:     opts,
		upgrader: websocket.Upgrader{},
		clients:  make(map[string]*client),
		topics:   make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves the client until it disconnects.
func (b *Board) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, connErr := b.upgrader.Upgrade(rw, r, nil)
	if connErr != nil {
		log.WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	conn.SetReadLimit(b.opts.ReadLimit)
	c := newClient(conn, b.opts.WriteTimeout, b.opts.OutboxSize)
	defer c.shutdown()
	go c.push()

	if err := b.handleRegister(c); err != nil {
		c.logger().WithError(err).Info("Board client failed to register")
		return
	}
	defer b.unregister(c)

	b.handleConn(c)
}

func (b *Board) handleRegister(c *client) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(b.opts.RegisterTimeout)); err != nil {
		return err
	}

	f, err := c.readFrame()
	if err != nil {
		return err
	}

	if f.Type != wire.Register {
		err = fmt.Errorf("expected register, got %v", f.Type)
	} else if f.AgentID == "" || f.AgentID == envelope.Broadcast || !envelope.ValidAgentID(f.AgentID) {
		err = fmt.Errorf("invalid agent id %q", f.AgentID)
	}

	if err != nil {
		_ = c.acknowledge(f.ID, err)
		return err
	}

	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	c.agentID = f.AgentID
	if old := b.register(c); old != nil {
		old.logger().Info("Agent registered again, closing its previous connection")
		old.shutdown()
	}

	c.logger().Info("Board client registered")
	return c.acknowledge(f.ID, nil)
}

// register a client, returning a replaced client for the same agent.
func (b *Board) register(c *client) (old *client) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if prev, ok := b.clients[c.agentID]; ok {
		b.dropLocked(prev)
		old = prev
	}
	b.clients[c.agentID] = c
	return
}

// unregister a client and remove its subscriptions.
func (b *Board) unregister(c *client) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if cur, ok := b.clients[c.agentID]; ok && cur == c {
		delete(b.clients, c.agentID)
	}
	b.dropLocked(c)

	c.logger().Debug("Board client unregistered")
}

func (b *Board) dropLocked(c *client) {
	for topic := range c.topics {
		if subs, ok := b.topics[topic]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
	}
	c.topics = make(map[string]struct{})
}

func (b *Board) handleConn(c *client) {
	for {
		f, err := c.readFrame()
		if err != nil {
			if netErr, ok := err.(*net.OpError); ok && netErr.Err.Error() == "use of closed network connection" {
				c.logger().WithError(err).Debug("Reader errored due to closed network connection")
			} else if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger().Debug("Board client closed its connection")
			} else {
				c.logger().WithError(err).Info("Reading next frame errored")
			}
			return
		}

		var writeErr error

		switch f.Type {
		case wire.Subscribe:
			writeErr = c.acknowledge(f.ID, b.subscribe(c, f.Topic))

		case wire.Unsubscribe:
			b.unsubscribe(c, f.Topic)
			writeErr = c.acknowledge(f.ID, nil)

		case wire.Send:
			writeErr = c.acknowledge(f.ID, b.handleSend(c, f))

		case wire.History:
			writeErr = b.handleHistory(c, f)

		case wire.Ping:
			writeErr = c.acknowledge(f.ID, nil)

		case wire.Register:
			writeErr = c.acknowledge(f.ID, fmt.Errorf("already registered as %s", c.agentID))

		default:
			writeErr = c.acknowledge(f.ID, fmt.Errorf("unsupported frame type %v", f.Type))
		}

		if writeErr != nil {
			c.logger().WithError(writeErr).WithField("frame", f).Warn("Answering frame errored")
			return
		}
	}
}

func (b *Board) subscribe(c *client, topic string) error {
	if topic == "" {
		return fmt.Errorf("empty topic")
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = make(map[*client]struct{})
	}
	b.topics[topic][c] = struct{}{}
	c.topics[topic] = struct{}{}

	c.logger().WithField("topic", topic).Debug("Board client subscribed")
	return nil
}

func (b *Board) unsubscribe(c *client, topic string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if subs, ok := b.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	delete(c.topics, topic)
}

func (b *Board) handleSend(c *client, f wire.Frame) error {
	if len(f.Envelopes) != 1 {
		return fmt.Errorf("send frame carries %d envelopes", len(f.Envelopes))
	}

	e := f.Envelopes[0]
	if err := e.Validate(); err != nil {
		return err
	} else if e.From != c.agentID {
		return fmt.Errorf("sender %q does not match registered agent %q", e.From, c.agentID)
	}

	return b.Publish(e)
}

// Publish records an Envelope and queues it for all subscribers of its topic. A subscriber whose outbox is full is
// closed instead of delaying the other subscribers.
func (b *Board) Publish(e envelope.Envelope) error {
	b.publishMutex.Lock()
	defer b.publishMutex.Unlock()

	if err := b.opts.History.Append(e); err != nil {
		return fmt.Errorf("recording envelope failed: %w", err)
	}
	if err := b.opts.History.Trim(e.Topic, b.opts.HistoryDepth); err != nil {
		log.WithError(err).WithField("topic", e.Topic).Warn("Trimming topic history errored")
	}

	b.mutex.RLock()
	subs := make([]*client, 0, len(b.topics[e.Topic]))
	for sub := range b.topics[e.Topic] {
		subs = append(subs, sub)
	}
	b.mutex.RUnlock()

	msg := wire.NewMessage(e)
	for _, sub := range subs {
		if err := sub.enqueue(msg); errors.Is(err, errOutboxFull) {
			sub.logger().WithError(err).Warn("Board client is too slow, closing it")
			sub.shutdown()
		}
	}

	log.WithFields(log.Fields{
		"envelope":    e.ID,
		"topic":       e.Topic,
		"from":        e.From,
		"subscribers": len(subs),
	}).Debug("Board published envelope")
	return nil
}

func (b *Board) handleHistory(c *client, f wire.Frame) error {
	limit := int(f.Limit)
	if limit <= 0 {
		limit = b.opts.ReplayLimit
	}
	if limit > b.opts.HistoryDepth {
		limit = b.opts.HistoryDepth
	}

	envs, err := b.opts.History.History(f.Topic, limit)
	if err != nil {
		return c.acknowledge(f.ID, err)
	}
	return c.writeFrame(wire.NewHistoryResponse(f, envs))
}

// Agents returns the IDs of all registered agents.
func (b *Board) Agents() []string {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	agents := make([]string, 0, len(b.clients))
	for id := range b.clients {
		agents = append(agents, id)
	}
	sort.Strings(agents)
	return agents
}

// Topics maps each subscribed topic to its subscribed agents.
func (b *Board) Topics() map[string][]string {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	topics := make(map[string][]string, len(b.topics))
	for topic, subs := range b.topics {
		for c := range subs {
			topics[topic] = append(topics[topic], c.agentID)
		}
		sort.Strings(topics[topic])
	}
	return topics
}

// Close all client connections.
func (b *Board) Close() {
	b.mutex.Lock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mutex.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
}
