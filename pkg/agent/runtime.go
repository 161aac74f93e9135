// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/messenger"
	"github.com/agentboard/agentboard-go/pkg/registry"
)

// Handler performs a Task and returns its response.
type Handler interface {
	Handle(ctx context.Context, t Task, e envelope.Envelope) (string, error)
}

// HandlerFunc is a function based Handler.
type HandlerFunc func(ctx context.Context, t Task, e envelope.Envelope) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, t Task, e envelope.Envelope) (string, error) {
	return f(ctx, t, e)
}

// PingAgent answers "pong" to every Task.
type PingAgent struct{}

// Handle a Task with a "pong".
func (PingAgent) Handle(_ context.Context, _ Task, _ envelope.Envelope) (string, error) {
	return "pong", nil
}

// Messenger is the part of messenger.Messenger used by a Runtime.
type Messenger interface {
	AgentID() string
	Send(ctx context.Context, e envelope.Envelope) (string, error)
	Subscribe(ctx context.Context, topic, subscriberID string, sink messenger.Sink) (*messenger.Subscription, error)
}

// RuntimeOptions configure a Runtime.
type RuntimeOptions struct {
	// Acknowledge each Task before handling it.
	Acknowledge bool

	// HandleTimeout bounds a single Handler call, defaults to five minutes.
	HandleTimeout time.Duration

	// Remember is the number of handled Tasks whose replies are kept for redelivered requests.
	Remember int
}

// DefaultRuntimeOptions acknowledge Tasks.
var DefaultRuntimeOptions = RuntimeOptions{
	Acknowledge:   true,
	HandleTimeout: 5 * time.Minute,
	Remember:      256,
}

// Runtime serves the Tasks delegated to one agent.
type Runtime struct {
	messenger Messenger
	manifest  registry.Manifest
	handler   Handler
	opts      RuntimeOptions

	// handled maps a correlation ID to its reply; a nil reply marks a Task in progress.
	handled *lru.Cache[string, *envelope.Envelope]
	mutex   sync.Mutex
}

// NewRuntime for an agent's Manifest. The Messenger must belong to the same agent.
func NewRuntime(m Messenger, manifest registry.Manifest, handler Handler, opts RuntimeOptions) (*Runtime, error) {
	if m.AgentID() != manifest.AgentID {
		return nil, fmt.Errorf("messenger of %s cannot serve agent %s", m.AgentID(), manifest.AgentID)
	}
	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = DefaultRuntimeOptions.HandleTimeout
	}
	if opts.Remember <= 0 {
		opts.Remember = DefaultRuntimeOptions.Remember
	}

	handled, err := lru.New[string, *envelope.Envelope](opts.Remember)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		messenger: m,
		manifest:  manifest,
		handler:   handler,
		opts:      opts,
		handled:   handled,
	}, nil
}

func (rt *Runtime) logger() *log.Entry {
	return log.WithField("agent", rt.manifest.AgentID)
}

// Serve subscribes to the agent's topics and handles incoming Tasks until the context is done.
func (rt *Runtime) Serve(ctx context.Context) error {
	topics := rt.manifest.Topics
	if len(topics) == 0 {
		topics = []string{rt.manifest.PrimaryTopic()}
	}

	incoming := make(chan envelope.Envelope, 64)
	sink := messenger.SinkFunc(func(e envelope.Envelope) {
		select {
		case incoming <- e:
		case <-ctx.Done():
		}
	})

	var subs []*messenger.Subscription
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for _, topic := range topics {
		sub, err := rt.messenger.Subscribe(ctx, topic, rt.manifest.AgentID, sink)
		if err != nil {
			return fmt.Errorf("subscribing to %s failed: %w", topic, err)
		}
		subs = append(subs, sub)
	}

	rt.logger().WithField("topics", topics).Info("Agent runtime serves tasks")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			rt.logger().Info("Agent runtime stops")
			return nil

		case e := <-incoming:
			if t, ok := rt.accept(e); ok {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rt.handle(ctx, t, e)
				}()
			}
		}
	}
}

// accept checks if an Envelope is a new Task for this agent. Redelivered Tasks are answered with the known reply.
func (rt *Runtime) accept(e envelope.Envelope) (t Task, ok bool) {
	logger := rt.logger().WithField("envelope", e.ID)

	if e.From == rt.manifest.AgentID || !e.AddressedTo(rt.manifest.AgentID) {
		return
	}

	t, err := DecodeTask(e.Content)
	if err != nil {
		logger.WithError(err).Debug("Ignoring Envelope without a Task")
		return
	}
	if t.TargetAgent != "" && t.TargetAgent != rt.manifest.AgentID {
		logger.WithField("target", t.TargetAgent).Debug("Ignoring Task for another agent")
		return
	}

	correlation := e.CorrelationID
	if correlation == "" {
		correlation = e.ID
	}

	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	if reply, known := rt.handled.Get(correlation); known {
		if reply == nil {
			logger.Debug("Task is already in progress")
			return
		}

		logger.Info("Task was redelivered, resending its reply")
		resend := *reply
		resend.ID = envelope.NewID()
		go rt.send(context.Background(), resend)
		return
	}

	rt.handled.Add(correlation, nil)
	ok = true
	return
}

func (rt *Runtime) send(ctx context.Context, e envelope.Envelope) {
	if _, err := rt.messenger.Send(ctx, e); err != nil {
		rt.logger().WithError(err).WithField("envelope", e.ID).Warn("Sending reply failed")
	}
}

func (rt *Runtime) handle(ctx context.Context, t Task, e envelope.Envelope) {
	logger := rt.logger().WithFields(log.Fields{
		"task":   t.ID,
		"sender": e.From,
	})

	if rt.opts.Acknowledge {
		rt.send(ctx, e.Reply(rt.manifest.AgentID, "", envelope.WithMetadata(envelope.MetaKind, KindAck)))
	}

	handleCtx, cancel := context.WithTimeout(ctx, rt.opts.HandleTimeout)
	response, err := rt.handler.Handle(handleCtx, t, e)
	cancel()

	var reply envelope.Envelope
	if err != nil {
		logger.WithError(err).Warn("Handler failed on task")
		reply = e.Reply(rt.manifest.AgentID, err.Error(), envelope.WithMetadata(envelope.MetaKind, KindError))
	} else {
		logger.Info("Handler finished task")
		reply = e.Reply(rt.manifest.AgentID, response, envelope.WithMetadata(envelope.MetaKind, KindResult))
	}

	correlation := e.CorrelationID
	if correlation == "" {
		correlation = e.ID
	}
	rt.mutex.Lock()
	rt.handled.Add(correlation, &reply)
	rt.mutex.Unlock()

	rt.send(ctx, reply)
}
